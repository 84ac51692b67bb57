// Package state holds the executor's private mirror of pipeline and binding
// state.
//
// A Shadow is owned by whichever side currently executes commands. The
// producer never touches it; every change arrives as an encoded record. Each
// setter records which state group changed so the backend is only told
// about the groups that differ before the next draw.
//
// Shadow is a comparable value: resources are held by id, and two shadows
// that describe the same pipeline compare equal with ==.
package state

import (
	"image"
	"math"

	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/gputypes"
)

// Shadow mirrors the full binding and pipeline state.
type Shadow struct {
	Viewport      Viewport
	Scissor       image.Rectangle
	RenderStates  [RenderStateCount]uint32
	Primitive     PrimitiveState
	DepthStencil  DepthStencilState
	Blend         BlendState
	BlendConstant Color

	RenderTargets      [MaxRenderTargets]resource.ID
	DepthStencilTarget resource.ID
	VertexBuffers      [MaxVertexBuffers]VertexBufferBinding
	IndexBuffer        IndexBufferBinding

	Shaders   [resource.StageCount]resource.ID
	Textures  [resource.StageCount][MaxTextures]resource.ID
	Constants [resource.StageCount][MaxConstants]Vec4

	dirty Dirty
}

// New returns a shadow holding the default state, fully dirty.
func New() *Shadow {
	s := &Shadow{}
	s.Reset()
	return s
}

// Reset restores the default state and marks everything dirty.
func (s *Shadow) Reset() {
	*s = Shadow{
		Primitive: PrimitiveState{
			Topology:  gputypes.PrimitiveTopologyTriangleList,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  gputypes.CullModeNone,
		},
		DepthStencil: DepthStencilState{
			DepthCompare: gputypes.CompareFunctionLess,
			DepthWrite:   true,
		},
		Blend: BlendState{
			Color: BlendComponent{SrcFactor: gputypes.BlendFactorOne, DstFactor: gputypes.BlendFactorZero, Operation: gputypes.BlendOperationAdd},
			Alpha: BlendComponent{SrcFactor: gputypes.BlendFactorOne, DstFactor: gputypes.BlendFactorZero, Operation: gputypes.BlendOperationAdd},
		},
		IndexBuffer: IndexBufferBinding{Format: gputypes.IndexFormatUint16},
	}
	s.RenderStates[RenderStateColorWriteMask] = 0xF
	s.RenderStates[RenderStateSampleMask] = math.MaxUint32
	s.RenderStates[RenderStatePointSize] = math.Float32bits(1)
	s.RenderStates[RenderStateLineWidth] = math.Float32bits(1)
	s.dirty = DirtyAll
}

// Dirty returns the groups changed since the last TakeDirty.
func (s *Shadow) Dirty() Dirty { return s.dirty }

// TakeDirty returns the changed groups and clears them.
func (s *Shadow) TakeDirty() Dirty {
	d := s.dirty
	s.dirty = 0
	return d
}

// MarkDirty adds groups to the dirty set.
func (s *Shadow) MarkDirty(d Dirty) { s.dirty |= d }

// Snapshot returns a copy with the dirty set cleared, suitable for ==.
func (s *Shadow) Snapshot() Shadow {
	c := *s
	c.dirty = 0
	return c
}

// SetViewport sets the viewport.
func (s *Shadow) SetViewport(v Viewport) {
	s.Viewport = v
	s.dirty |= DirtyViewport
}

// SetScissor sets the scissor rectangle. An empty rectangle disables it.
func (s *Shadow) SetScissor(r image.Rectangle) {
	s.Scissor = r
	s.dirty |= DirtyScissor
}

// SetRenderState sets one render state. Unknown keys are ignored and
// reported as false.
func (s *Shadow) SetRenderState(key RenderState, value uint32) bool {
	if key >= RenderStateCount {
		return false
	}
	s.RenderStates[key] = value
	s.dirty |= DirtyRenderStates
	return true
}

// SetPrimitive sets the primitive state.
func (s *Shadow) SetPrimitive(p PrimitiveState) {
	s.Primitive = p
	s.dirty |= DirtyPrimitive
}

// SetDepthStencil sets the depth/stencil state.
func (s *Shadow) SetDepthStencil(d DepthStencilState) {
	s.DepthStencil = d
	s.dirty |= DirtyDepthStencil
}

// SetBlend sets the blend state.
func (s *Shadow) SetBlend(b BlendState) {
	s.Blend = b
	s.dirty |= DirtyBlend
}

// SetBlendConstant sets the blend constant color.
func (s *Shadow) SetBlendConstant(c Color) {
	s.BlendConstant = c
	s.dirty |= DirtyBlend
}

// SetRenderTarget binds a color target. Out-of-range indices report false.
func (s *Shadow) SetRenderTarget(index int, id resource.ID) bool {
	if index < 0 || index >= MaxRenderTargets {
		return false
	}
	s.RenderTargets[index] = id
	s.dirty |= DirtyTargets
	return true
}

// SetDepthStencilTarget binds the depth/stencil target.
func (s *Shadow) SetDepthStencilTarget(id resource.ID) {
	s.DepthStencilTarget = id
	s.dirty |= DirtyTargets
}

// SetVertexBuffer binds a vertex buffer slot.
func (s *Shadow) SetVertexBuffer(slot int, b VertexBufferBinding) bool {
	if slot < 0 || slot >= MaxVertexBuffers {
		return false
	}
	s.VertexBuffers[slot] = b
	s.dirty |= DirtyVertexBuffers
	return true
}

// SetIndexBuffer binds the index buffer.
func (s *Shadow) SetIndexBuffer(b IndexBufferBinding) {
	s.IndexBuffer = b
	s.dirty |= DirtyIndexBuffer
}

// SetShader binds a shader to a stage.
func (s *Shadow) SetShader(stage resource.Stage, id resource.ID) bool {
	if !stage.Valid() {
		return false
	}
	s.Shaders[stage] = id
	s.dirty |= DirtyShaders
	return true
}

// SetTexture binds a texture to a stage slot.
func (s *Shadow) SetTexture(stage resource.Stage, slot int, id resource.ID) bool {
	if !stage.Valid() || slot < 0 || slot >= MaxTextures {
		return false
	}
	s.Textures[stage][slot] = id
	s.dirty |= DirtyTextures
	return true
}

// SetConstants writes consecutive constant registers starting at start.
// The write is rejected as a whole if it does not fit.
func (s *Shadow) SetConstants(stage resource.Stage, start int, v []Vec4) bool {
	if !stage.Valid() || start < 0 || start+len(v) > MaxConstants {
		return false
	}
	copy(s.Constants[stage][start:], v)
	s.dirty |= DirtyConstants
	return true
}

// Unbind clears every binding that refers to id and returns the groups that
// changed.
func (s *Shadow) Unbind(id resource.ID) Dirty {
	if id == 0 {
		return 0
	}
	var d Dirty
	for i := range s.RenderTargets {
		if s.RenderTargets[i] == id {
			s.RenderTargets[i] = 0
			d |= DirtyTargets
		}
	}
	if s.DepthStencilTarget == id {
		s.DepthStencilTarget = 0
		d |= DirtyTargets
	}
	for i := range s.VertexBuffers {
		if s.VertexBuffers[i].Buffer == id {
			s.VertexBuffers[i] = VertexBufferBinding{}
			d |= DirtyVertexBuffers
		}
	}
	if s.IndexBuffer.Buffer == id {
		s.IndexBuffer.Buffer = 0
		s.IndexBuffer.Offset = 0
		d |= DirtyIndexBuffer
	}
	for st := range s.Shaders {
		if s.Shaders[st] == id {
			s.Shaders[st] = 0
			d |= DirtyShaders
		}
		for i := range s.Textures[st] {
			if s.Textures[st][i] == id {
				s.Textures[st][i] = 0
				d |= DirtyTextures
			}
		}
	}
	s.dirty |= d
	return d
}

// IsBound reports whether any binding refers to id.
func (s *Shadow) IsBound(id resource.ID) bool {
	c := *s
	return c.Unbind(id) != 0
}
