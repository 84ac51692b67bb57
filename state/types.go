package state

import (
	"fmt"
	"strings"

	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/gputypes"
)

// Binding table sizes.
const (
	MaxRenderTargets = 4
	MaxVertexBuffers = 8
	MaxTextures      = 16
	MaxConstants     = 64
)

// Viewport maps normalized device coordinates to the render target.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Color is a linear RGBA color.
type Color struct {
	R, G, B, A float32
}

// Vec4 is one shader constant register.
type Vec4 [4]float32

// PrimitiveState controls primitive assembly and face culling.
type PrimitiveState struct {
	Topology  gputypes.PrimitiveTopology
	FrontFace gputypes.FrontFace
	CullMode  gputypes.CullMode
}

// DepthStencilState controls the depth test.
type DepthStencilState struct {
	DepthCompare gputypes.CompareFunction
	DepthWrite   bool
	StencilRef   uint32
}

// BlendComponent is one half (color or alpha) of a blend equation.
type BlendComponent struct {
	SrcFactor gputypes.BlendFactor
	DstFactor gputypes.BlendFactor
	Operation gputypes.BlendOperation
}

// BlendState is the color target blend configuration.
type BlendState struct {
	Enabled bool
	Color   BlendComponent
	Alpha   BlendComponent
}

// VertexBufferBinding binds a buffer range to a vertex input slot.
type VertexBufferBinding struct {
	Buffer resource.ID
	Offset uint64
	Stride uint32
}

// IndexBufferBinding binds the index buffer.
type IndexBufferBinding struct {
	Buffer resource.ID
	Format gputypes.IndexFormat
	Offset uint64
}

// RenderState names a scalar fixed-function state.
type RenderState uint32

const (
	RenderStateFillMode RenderState = iota
	RenderStateShadeMode
	RenderStateAlphaTestEnable
	RenderStateAlphaRef
	RenderStateStencilEnable
	RenderStateColorWriteMask
	RenderStateDepthBias
	RenderStateSampleMask
	RenderStatePointSize
	RenderStateLineWidth

	// RenderStateCount is the number of render states.
	RenderStateCount
)

var renderStateNames = [...]string{
	RenderStateFillMode:        "FillMode",
	RenderStateShadeMode:       "ShadeMode",
	RenderStateAlphaTestEnable: "AlphaTestEnable",
	RenderStateAlphaRef:        "AlphaRef",
	RenderStateStencilEnable:   "StencilEnable",
	RenderStateColorWriteMask:  "ColorWriteMask",
	RenderStateDepthBias:       "DepthBias",
	RenderStateSampleMask:      "SampleMask",
	RenderStatePointSize:       "PointSize",
	RenderStateLineWidth:       "LineWidth",
}

// String returns the render state name.
func (s RenderState) String() string {
	if s < RenderStateCount {
		return renderStateNames[s]
	}
	return fmt.Sprintf("RenderState(%d)", uint32(s))
}

// Dirty is a set of state groups changed since the backend last saw them.
type Dirty uint32

const (
	DirtyViewport Dirty = 1 << iota
	DirtyScissor
	DirtyRenderStates
	DirtyPrimitive
	DirtyDepthStencil
	DirtyBlend
	DirtyTargets
	DirtyVertexBuffers
	DirtyIndexBuffer
	DirtyShaders
	DirtyTextures
	DirtyConstants

	// DirtyAll marks every group.
	DirtyAll = DirtyConstants<<1 - 1
)

var dirtyNames = []string{
	"Viewport", "Scissor", "RenderStates", "Primitive", "DepthStencil", "Blend",
	"Targets", "VertexBuffers", "IndexBuffer", "Shaders", "Textures", "Constants",
}

// String lists the dirty groups, e.g. "Viewport|Blend".
func (d Dirty) String() string {
	if d == 0 {
		return "None"
	}
	var parts []string
	for i, name := range dirtyNames {
		if d&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
