package command

import (
	"image"

	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
	"github.com/gogpu/gputypes"
)

// decoders is the dispatch table from opcode to payload decoder. The header
// has already been consumed when a decoder runs.
var decoders = [OpCount]func(r *reader) Record{
	OpNop:  func(*reader) Record { return Nop{} },
	OpSkip: func(r *reader) Record { return Skip{Length: r.u32()} },
	OpStop: func(*reader) Record { return Stop{} },

	OpFence:    func(r *reader) Record { return Fence{Fence: r.u32()} },
	OpCallback: func(r *reader) Record { return Callback{Callback: r.u32()} },

	OpSetViewport: func(r *reader) Record {
		return SetViewport{Viewport: state.Viewport{
			X: r.f32(), Y: r.f32(), Width: r.f32(), Height: r.f32(),
			MinDepth: r.f32(), MaxDepth: r.f32(),
		}}
	},
	OpSetScissor: func(r *reader) Record { return SetScissor{Rect: r.rect()} },
	OpSetRenderState: func(r *reader) Record {
		return SetRenderState{Key: state.RenderState(r.u32()), Value: r.u32()}
	},
	OpSetPrimitiveState: func(r *reader) Record {
		return SetPrimitiveState{State: state.PrimitiveState{
			Topology:  gputypes.PrimitiveTopology(r.u32()),
			FrontFace: gputypes.FrontFace(r.u32()),
			CullMode:  gputypes.CullMode(r.u32()),
		}}
	},
	OpSetDepthStencilState: func(r *reader) Record {
		return SetDepthStencilState{State: state.DepthStencilState{
			DepthCompare: gputypes.CompareFunction(r.u32()),
			DepthWrite:   r.flag(),
			StencilRef:   r.u32(),
		}}
	},
	OpSetBlendState: func(r *reader) Record {
		s := state.BlendState{Enabled: r.flag()}
		s.Color = readBlendComponent(r)
		s.Alpha = readBlendComponent(r)
		return SetBlendState{State: s}
	},
	OpSetBlendConstant: func(r *reader) Record {
		return SetBlendConstant{Color: readColor(r)}
	},
	OpSetRenderTarget: func(r *reader) Record {
		return SetRenderTarget{Index: r.u32(), Texture: resource.ID(r.u32())}
	},
	OpSetDepthStencilTarget: func(r *reader) Record {
		return SetDepthStencilTarget{Texture: resource.ID(r.u32())}
	},
	OpSetVertexBuffer: func(r *reader) Record {
		return SetVertexBuffer{Slot: r.u32(), Binding: state.VertexBufferBinding{
			Buffer: resource.ID(r.u32()),
			Offset: r.u64(),
			Stride: r.u32(),
		}}
	},
	OpSetIndexBuffer: func(r *reader) Record {
		return SetIndexBuffer{Binding: state.IndexBufferBinding{
			Buffer: resource.ID(r.u32()),
			Format: gputypes.IndexFormat(r.u32()),
			Offset: r.u64(),
		}}
	},
	OpSetShader: func(r *reader) Record {
		return SetShader{Stage: resource.Stage(r.u32()), Shader: resource.ID(r.u32())}
	},
	OpSetTexture: func(r *reader) Record {
		return SetTexture{Stage: resource.Stage(r.u32()), Slot: r.u32(), Texture: resource.ID(r.u32())}
	},
	OpSetConstants: decodeSetConstants,
	OpResetState:   func(*reader) Record { return ResetState{} },

	OpClear: decodeClear,
	OpDraw: func(r *reader) Record {
		return Draw{VertexCount: r.u32(), InstanceCount: r.u32(), FirstVertex: r.u32(), FirstInstance: r.u32()}
	},
	OpDrawIndexed: func(r *reader) Record {
		return DrawIndexed{
			IndexCount:    r.u32(),
			InstanceCount: r.u32(),
			FirstIndex:    r.u32(),
			BaseVertex:    r.i32(),
			FirstInstance: r.u32(),
		}
	},
	OpDispatch: func(r *reader) Record { return Dispatch{X: r.u32(), Y: r.u32(), Z: r.u32()} },
	OpBlit: func(r *reader) Record {
		return Blit{
			Src:     resource.ID(r.u32()),
			Dst:     resource.ID(r.u32()),
			SrcRect: r.rect(),
			DstRect: r.rect(),
			Filter:  gputypes.FilterMode(r.u32()),
		}
	},
	OpUpdateBuffer: decodeUpdateBuffer,
	OpPresent: func(r *reader) Record {
		return Present{Texture: resource.ID(r.u32()), SyncInterval: r.u32()}
	},
	OpIssueQuery: func(r *reader) Record { return IssueQuery{Query: resource.ID(r.u32())} },

	OpMap: func(r *reader) Record {
		return Map{Buffer: resource.ID(r.u32()), Offset: r.u64(), Length: r.u64(), Result: r.u32()}
	},
	OpUnmap: func(r *reader) Record { return Unmap{Buffer: resource.ID(r.u32())} },

	OpDestroyObject: func(r *reader) Record { return DestroyObject{Entry: r.u32()} },
}

func readBlendComponent(r *reader) state.BlendComponent {
	return state.BlendComponent{
		SrcFactor: gputypes.BlendFactor(r.u32()),
		DstFactor: gputypes.BlendFactor(r.u32()),
		Operation: gputypes.BlendOperation(r.u32()),
	}
}

func readColor(r *reader) state.Color {
	return state.Color{R: r.f32(), G: r.f32(), B: r.f32(), A: r.f32()}
}

func decodeSetConstants(r *reader) Record {
	s := SetConstants{Stage: resource.Stage(r.u32()), Start: r.u32()}
	count := r.u32()
	if count == 0 || !r.fits(count, vec4Size) {
		return s
	}
	s.Values = make([]state.Vec4, count)
	for i := range s.Values {
		s.Values[i] = state.Vec4{r.f32(), r.f32(), r.f32(), r.f32()}
	}
	return s
}

func decodeClear(r *reader) Record {
	c := Clear{Flags: ClearFlags(r.u32()), Color: readColor(r), Depth: r.f32(), Stencil: r.u32()}
	count := r.u32()
	if count == 0 || !r.fits(count, rectSize) {
		return c
	}
	c.Rects = make([]image.Rectangle, count)
	for i := range c.Rects {
		c.Rects[i] = r.rect()
	}
	return c
}

func decodeUpdateBuffer(r *reader) Record {
	u := UpdateBuffer{Buffer: resource.ID(r.u32()), Offset: r.u64()}
	n := r.u32()
	if n == 0 || !r.fits(n, 1) {
		return u
	}
	u.Data = r.next(int(n))
	r.next(pad4(int(n)) - int(n))
	return u
}
