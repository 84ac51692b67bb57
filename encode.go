package cmdstream

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
)

// Clear flags select which attachments Clear writes.
const (
	ClearColor   = command.ClearColor
	ClearDepth   = command.ClearDepth
	ClearStencil = command.ClearStencil

	clearAll = ClearColor | ClearDepth | ClearStencil
)

// owns reports whether obj is a live object the stream tracks under its id.
func (s *Stream) owns(obj resource.Object) error {
	if obj.Destroyed() {
		return fmt.Errorf("cmdstream: %v: %w", obj, ErrResourceDestroyed)
	}
	got, ok := s.eng.Executor().Resources().Get(uint32(obj.ID()))
	if !ok || got != obj {
		return fmt.Errorf("cmdstream: %v: %w", obj, ErrUnknownResource)
	}
	return nil
}

func (s *Stream) texture(t *resource.Texture, usage gputypes.TextureUsage) (resource.ID, error) {
	if t == nil {
		return 0, nil
	}
	if err := s.owns(t); err != nil {
		return 0, err
	}
	if !t.HasUsage(usage) {
		return 0, fmt.Errorf("cmdstream: %v: %w: usage %v lacks %v", t, ErrInvalidUsage, t.Usage(), usage)
	}
	return t.ID(), nil
}

func (s *Stream) buffer(b *resource.Buffer, usage gputypes.BufferUsage) (resource.ID, error) {
	if b == nil {
		return 0, nil
	}
	if err := s.owns(b); err != nil {
		return 0, err
	}
	if !b.HasUsage(usage) {
		return 0, fmt.Errorf("cmdstream: %v: %w: usage %v lacks %v", b, ErrInvalidUsage, b.Usage(), usage)
	}
	return b.ID(), nil
}

func outOfRange(what string, v, limit int) error {
	return fmt.Errorf("cmdstream: %s %d: %w [0, %d)", what, v, ErrOutOfRange, limit)
}

// SetViewport sets the viewport transform.
func (s *Stream) SetViewport(v state.Viewport) error {
	return s.submit(command.SetViewport{Viewport: v})
}

// SetScissor restricts rendering to r. An empty r disables scissoring.
func (s *Stream) SetScissor(r image.Rectangle) error {
	return s.submit(command.SetScissor{Rect: r.Canon()})
}

// SetRenderState sets one render state value.
func (s *Stream) SetRenderState(key state.RenderState, value uint32) error {
	if key >= state.RenderStateCount {
		return outOfRange("render state", int(key), int(state.RenderStateCount))
	}
	return s.submit(command.SetRenderState{Key: key, Value: value})
}

// SetPrimitiveState sets topology, winding and culling.
func (s *Stream) SetPrimitiveState(p state.PrimitiveState) error {
	return s.submit(command.SetPrimitiveState{State: p})
}

// SetDepthStencilState sets the depth test and stencil reference.
func (s *Stream) SetDepthStencilState(d state.DepthStencilState) error {
	return s.submit(command.SetDepthStencilState{State: d})
}

// SetBlendState sets color and alpha blending.
func (s *Stream) SetBlendState(b state.BlendState) error {
	return s.submit(command.SetBlendState{State: b})
}

// SetBlendConstant sets the constant blend color.
func (s *Stream) SetBlendConstant(c state.Color) error {
	return s.submit(command.SetBlendConstant{Color: c})
}

// SetRenderTarget binds a color texture to attachment index. A nil texture
// unbinds the attachment.
func (s *Stream) SetRenderTarget(index int, t *resource.Texture) error {
	if index < 0 || index >= state.MaxRenderTargets {
		return outOfRange("render target", index, state.MaxRenderTargets)
	}
	id, err := s.texture(t, gputypes.TextureUsageRenderAttachment)
	if err != nil {
		return err
	}
	if t != nil && !t.IsColor() {
		return fmt.Errorf("cmdstream: render target %v: %w: format %v", t, ErrInvalidUsage, t.Format())
	}
	return s.submit(command.SetRenderTarget{Index: uint32(index), Texture: id})
}

// SetDepthStencilTarget binds a depth/stencil texture. A nil texture
// unbinds it.
func (s *Stream) SetDepthStencilTarget(t *resource.Texture) error {
	id, err := s.texture(t, gputypes.TextureUsageRenderAttachment)
	if err != nil {
		return err
	}
	if t != nil && t.Format() != gputypes.TextureFormatDepth24PlusStencil8 {
		return fmt.Errorf("cmdstream: depth target %v: %w: format %v", t, ErrInvalidUsage, t.Format())
	}
	return s.submit(command.SetDepthStencilTarget{Texture: id})
}

// SetVertexBuffer binds a vertex buffer to slot. A nil buffer unbinds the
// slot.
func (s *Stream) SetVertexBuffer(slot int, b *resource.Buffer, offset uint64, stride uint32) error {
	if slot < 0 || slot >= state.MaxVertexBuffers {
		return outOfRange("vertex buffer slot", slot, state.MaxVertexBuffers)
	}
	id, err := s.buffer(b, gputypes.BufferUsageVertex)
	if err != nil {
		return err
	}
	if b != nil && offset > uint64(b.Size()) {
		return fmt.Errorf("cmdstream: vertex buffer %v offset %d: %w", b, offset, ErrOutOfRange)
	}
	return s.submit(command.SetVertexBuffer{Slot: uint32(slot), Binding: state.VertexBufferBinding{
		Buffer: id,
		Offset: offset,
		Stride: stride,
	}})
}

// SetIndexBuffer binds the index buffer. A nil buffer unbinds it.
func (s *Stream) SetIndexBuffer(b *resource.Buffer, format gputypes.IndexFormat, offset uint64) error {
	id, err := s.buffer(b, gputypes.BufferUsageIndex)
	if err != nil {
		return err
	}
	if format != gputypes.IndexFormatUint16 && format != gputypes.IndexFormatUint32 {
		return fmt.Errorf("cmdstream: index format %v: %w", format, ErrOutOfRange)
	}
	if b != nil && offset > uint64(b.Size()) {
		return fmt.Errorf("cmdstream: index buffer %v offset %d: %w", b, offset, ErrOutOfRange)
	}
	return s.submit(command.SetIndexBuffer{Binding: state.IndexBufferBinding{
		Buffer: id,
		Format: format,
		Offset: offset,
	}})
}

// SetShader binds sh to stage. A nil shader unbinds the stage.
func (s *Stream) SetShader(stage resource.Stage, sh *resource.Shader) error {
	if !stage.Valid() {
		return outOfRange("stage", int(stage), int(resource.StageCount))
	}
	var id resource.ID
	if sh != nil {
		if err := s.owns(sh); err != nil {
			return err
		}
		if sh.Stage() != stage {
			return fmt.Errorf("cmdstream: %v compiled for %v, bound to %v: %w", sh, sh.Stage(), stage, ErrInvalidUsage)
		}
		id = sh.ID()
	}
	return s.submit(command.SetShader{Stage: stage, Shader: id})
}

// SetTexture binds a sampled texture to a stage slot. A nil texture unbinds
// the slot.
func (s *Stream) SetTexture(stage resource.Stage, slot int, t *resource.Texture) error {
	if !stage.Valid() {
		return outOfRange("stage", int(stage), int(resource.StageCount))
	}
	if slot < 0 || slot >= state.MaxTextures {
		return outOfRange("texture slot", slot, state.MaxTextures)
	}
	id, err := s.texture(t, gputypes.TextureUsageTextureBinding)
	if err != nil {
		return err
	}
	return s.submit(command.SetTexture{Stage: stage, Slot: uint32(slot), Texture: id})
}

// SetConstants uploads shader constants for stage starting at register
// start. Empty values record nothing.
func (s *Stream) SetConstants(stage resource.Stage, start int, values []state.Vec4) error {
	if !stage.Valid() {
		return outOfRange("stage", int(stage), int(resource.StageCount))
	}
	if start < 0 || start+len(values) > state.MaxConstants {
		return fmt.Errorf("cmdstream: constants [%d:+%d]: %w [0, %d)", start, len(values), ErrOutOfRange, state.MaxConstants)
	}
	if len(values) == 0 {
		return nil
	}
	return s.submit(command.SetConstants{Stage: stage, Start: uint32(start), Values: values})
}

// ResetState restores every state group to its default and unbinds all
// resources.
func (s *Stream) ResetState() error {
	return s.submit(command.ResetState{})
}

// Clear clears the attachments selected by flags. With rects, only those
// rectangles are cleared. The scissor rectangle applies either way.
func (s *Stream) Clear(flags command.ClearFlags, color state.Color, depth float32, stencil uint32, rects ...image.Rectangle) error {
	if flags&^clearAll != 0 {
		return fmt.Errorf("cmdstream: clear flags %#x: %w", uint32(flags), ErrOutOfRange)
	}
	return s.submit(command.Clear{
		Flags:   flags,
		Color:   color,
		Depth:   depth,
		Stencil: stencil,
		Rects:   rects,
	})
}

// Draw draws non-indexed primitives with the current state.
func (s *Stream) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	return s.submit(command.Draw{
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
}

// DrawIndexed draws indexed primitives with the current state.
func (s *Stream) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	return s.submit(command.DrawIndexed{
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    firstIndex,
		BaseVertex:    baseVertex,
		FirstInstance: firstInstance,
	})
}

// Dispatch runs the bound compute shader over x*y*z workgroups.
func (s *Stream) Dispatch(x, y, z uint32) error {
	return s.submit(command.Dispatch{X: x, Y: y, Z: z})
}

// Blit copies srcRect of src into dstRect of dst, scaling with filter.
// Empty rectangles stand for the whole texture.
func (s *Stream) Blit(src, dst *resource.Texture, srcRect, dstRect image.Rectangle, filter gputypes.FilterMode) error {
	if src == nil || dst == nil {
		return fmt.Errorf("cmdstream: blit: %w: nil texture", ErrInvalidUsage)
	}
	sid, err := s.texture(src, gputypes.TextureUsageCopySrc)
	if err != nil {
		return err
	}
	did, err := s.texture(dst, gputypes.TextureUsageCopyDst)
	if err != nil {
		return err
	}
	return s.submit(command.Blit{
		Src:     sid,
		Dst:     did,
		SrcRect: srcRect.Canon(),
		DstRect: dstRect.Canon(),
		Filter:  filter,
	})
}

// Present hands t to the backend for display.
func (s *Stream) Present(t *resource.Texture, syncInterval uint32) error {
	if t == nil {
		return fmt.Errorf("cmdstream: present: %w: nil texture", ErrInvalidUsage)
	}
	if err := s.owns(t); err != nil {
		return err
	}
	return s.submit(command.Present{Texture: t.ID(), SyncInterval: syncInterval})
}
