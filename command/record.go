package command

import (
	"image"

	"github.com/gogpu/cmdstream/internal/ring"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
	"github.com/gogpu/gputypes"
)

// Record is one encoded command. The set of implementations is closed; each
// kind is a plain struct in this package.
type Record interface {
	// Opcode returns the record kind.
	Opcode() Opcode

	// Size returns the encoded size in bytes, header included.
	Size() int

	// AppendRefs appends the resources the record references. The encoder
	// acquires them before publishing and the executor releases them after
	// the record ran.
	AppendRefs(ids []resource.ID) []resource.ID

	encode(w *writer)
}

// noRefs is embedded by records that reference no resources.
type noRefs struct{}

func (noRefs) AppendRefs(ids []resource.ID) []resource.ID { return ids }

func appendID(ids []resource.ID, id resource.ID) []resource.ID {
	if id == 0 {
		return ids
	}
	return append(ids, id)
}

// Nop is 4 bytes of lane padding.
type Nop struct{ noRefs }

func (Nop) Opcode() Opcode    { return OpNop }
func (Nop) Size() int         { return ring.HeaderSize }
func (Nop) encode(w *writer) {}

// Skip pads the lane up to its physical end. Length includes the header.
type Skip struct {
	noRefs
	Length uint32
}

func (Skip) Opcode() Opcode     { return OpSkip }
func (Skip) Size() int          { return ring.SkipSize }
func (s Skip) encode(w *writer) { w.u32(s.Length) }

// Stop terminates the threaded executor. It is the last record of a stream.
type Stop struct{ noRefs }

func (Stop) Opcode() Opcode    { return OpStop }
func (Stop) Size() int         { return ring.HeaderSize }
func (Stop) encode(w *writer) {}

// Fence signals the one-shot fence with the given id.
type Fence struct {
	noRefs
	Fence uint32
}

func (Fence) Opcode() Opcode     { return OpFence }
func (Fence) Size() int          { return 8 }
func (f Fence) encode(w *writer) { w.u32(f.Fence) }

// Callback runs the one-shot function with the given id on the executor.
type Callback struct {
	noRefs
	Callback uint32
}

func (Callback) Opcode() Opcode     { return OpCallback }
func (Callback) Size() int          { return 8 }
func (c Callback) encode(w *writer) { w.u32(c.Callback) }

// SetViewport sets the viewport.
type SetViewport struct {
	noRefs
	Viewport state.Viewport
}

func (SetViewport) Opcode() Opcode { return OpSetViewport }
func (SetViewport) Size() int      { return ring.HeaderSize + viewportSize }

func (s SetViewport) encode(w *writer) {
	v := s.Viewport
	w.f32(v.X)
	w.f32(v.Y)
	w.f32(v.Width)
	w.f32(v.Height)
	w.f32(v.MinDepth)
	w.f32(v.MaxDepth)
}

// SetScissor sets the scissor rectangle.
type SetScissor struct {
	noRefs
	Rect image.Rectangle
}

func (SetScissor) Opcode() Opcode     { return OpSetScissor }
func (SetScissor) Size() int          { return ring.HeaderSize + rectSize }
func (s SetScissor) encode(w *writer) { w.rect(s.Rect) }

// SetRenderState sets one scalar render state.
type SetRenderState struct {
	noRefs
	Key   state.RenderState
	Value uint32
}

func (SetRenderState) Opcode() Opcode { return OpSetRenderState }
func (SetRenderState) Size() int      { return 12 }

func (s SetRenderState) encode(w *writer) {
	w.u32(uint32(s.Key))
	w.u32(s.Value)
}

// SetPrimitiveState sets primitive assembly and culling.
type SetPrimitiveState struct {
	noRefs
	State state.PrimitiveState
}

func (SetPrimitiveState) Opcode() Opcode { return OpSetPrimitiveState }
func (SetPrimitiveState) Size() int      { return 16 }

func (s SetPrimitiveState) encode(w *writer) {
	w.u32(uint32(s.State.Topology))
	w.u32(uint32(s.State.FrontFace))
	w.u32(uint32(s.State.CullMode))
}

// SetDepthStencilState sets the depth test.
type SetDepthStencilState struct {
	noRefs
	State state.DepthStencilState
}

func (SetDepthStencilState) Opcode() Opcode { return OpSetDepthStencilState }
func (SetDepthStencilState) Size() int      { return 16 }

func (s SetDepthStencilState) encode(w *writer) {
	w.u32(uint32(s.State.DepthCompare))
	w.flag(s.State.DepthWrite)
	w.u32(s.State.StencilRef)
}

// SetBlendState sets the blend equation.
type SetBlendState struct {
	noRefs
	State state.BlendState
}

func (SetBlendState) Opcode() Opcode { return OpSetBlendState }
func (SetBlendState) Size() int      { return 32 }

func (s SetBlendState) encode(w *writer) {
	w.flag(s.State.Enabled)
	for _, c := range [2]state.BlendComponent{s.State.Color, s.State.Alpha} {
		w.u32(uint32(c.SrcFactor))
		w.u32(uint32(c.DstFactor))
		w.u32(uint32(c.Operation))
	}
}

// SetBlendConstant sets the blend constant color.
type SetBlendConstant struct {
	noRefs
	Color state.Color
}

func (SetBlendConstant) Opcode() Opcode { return OpSetBlendConstant }
func (SetBlendConstant) Size() int      { return ring.HeaderSize + colorSize }

func (s SetBlendConstant) encode(w *writer) {
	w.f32(s.Color.R)
	w.f32(s.Color.G)
	w.f32(s.Color.B)
	w.f32(s.Color.A)
}

// SetRenderTarget binds a color target. A zero texture unbinds the slot.
type SetRenderTarget struct {
	Index   uint32
	Texture resource.ID
}

func (SetRenderTarget) Opcode() Opcode { return OpSetRenderTarget }
func (SetRenderTarget) Size() int      { return 12 }

func (s SetRenderTarget) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, s.Texture)
}

func (s SetRenderTarget) encode(w *writer) {
	w.u32(s.Index)
	w.u32(uint32(s.Texture))
}

// SetDepthStencilTarget binds the depth/stencil target.
type SetDepthStencilTarget struct {
	Texture resource.ID
}

func (SetDepthStencilTarget) Opcode() Opcode { return OpSetDepthStencilTarget }
func (SetDepthStencilTarget) Size() int      { return 8 }

func (s SetDepthStencilTarget) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, s.Texture)
}

func (s SetDepthStencilTarget) encode(w *writer) { w.u32(uint32(s.Texture)) }

// SetVertexBuffer binds a vertex buffer slot.
type SetVertexBuffer struct {
	Slot    uint32
	Binding state.VertexBufferBinding
}

func (SetVertexBuffer) Opcode() Opcode { return OpSetVertexBuffer }
func (SetVertexBuffer) Size() int      { return 24 }

func (s SetVertexBuffer) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, s.Binding.Buffer)
}

func (s SetVertexBuffer) encode(w *writer) {
	w.u32(s.Slot)
	w.u32(uint32(s.Binding.Buffer))
	w.u64(s.Binding.Offset)
	w.u32(s.Binding.Stride)
}

// SetIndexBuffer binds the index buffer.
type SetIndexBuffer struct {
	Binding state.IndexBufferBinding
}

func (SetIndexBuffer) Opcode() Opcode { return OpSetIndexBuffer }
func (SetIndexBuffer) Size() int      { return 20 }

func (s SetIndexBuffer) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, s.Binding.Buffer)
}

func (s SetIndexBuffer) encode(w *writer) {
	w.u32(uint32(s.Binding.Buffer))
	w.u32(uint32(s.Binding.Format))
	w.u64(s.Binding.Offset)
}

// SetShader binds a shader to a stage.
type SetShader struct {
	Stage  resource.Stage
	Shader resource.ID
}

func (SetShader) Opcode() Opcode { return OpSetShader }
func (SetShader) Size() int      { return 12 }

func (s SetShader) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, s.Shader)
}

func (s SetShader) encode(w *writer) {
	w.u32(uint32(s.Stage))
	w.u32(uint32(s.Shader))
}

// SetTexture binds a texture to a stage slot.
type SetTexture struct {
	Stage   resource.Stage
	Slot    uint32
	Texture resource.ID
}

func (SetTexture) Opcode() Opcode { return OpSetTexture }
func (SetTexture) Size() int      { return 16 }

func (s SetTexture) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, s.Texture)
}

func (s SetTexture) encode(w *writer) {
	w.u32(uint32(s.Stage))
	w.u32(s.Slot)
	w.u32(uint32(s.Texture))
}

// SetConstants writes consecutive constant registers.
type SetConstants struct {
	noRefs
	Stage  resource.Stage
	Start  uint32
	Values []state.Vec4
}

func (SetConstants) Opcode() Opcode { return OpSetConstants }
func (s SetConstants) Size() int    { return 16 + len(s.Values)*vec4Size }

func (s SetConstants) encode(w *writer) {
	w.u32(uint32(s.Stage))
	w.u32(s.Start)
	w.u32(uint32(len(s.Values)))
	for _, v := range s.Values {
		for _, f := range v {
			w.f32(f)
		}
	}
}

// ResetState restores the default state.
type ResetState struct{ noRefs }

func (ResetState) Opcode() Opcode    { return OpResetState }
func (ResetState) Size() int         { return ring.HeaderSize }
func (ResetState) encode(w *writer) {}

// ClearFlags selects the buffers a Clear touches.
type ClearFlags uint32

const (
	ClearColor ClearFlags = 1 << iota
	ClearDepth
	ClearStencil
)

// Clear clears the bound targets, optionally restricted to Rects.
type Clear struct {
	noRefs
	Flags   ClearFlags
	Color   state.Color
	Depth   float32
	Stencil uint32
	Rects   []image.Rectangle
}

func (Clear) Opcode() Opcode { return OpClear }
func (c Clear) Size() int    { return 36 + len(c.Rects)*rectSize }

func (c Clear) encode(w *writer) {
	w.u32(uint32(c.Flags))
	w.f32(c.Color.R)
	w.f32(c.Color.G)
	w.f32(c.Color.B)
	w.f32(c.Color.A)
	w.f32(c.Depth)
	w.u32(c.Stencil)
	w.u32(uint32(len(c.Rects)))
	for _, r := range c.Rects {
		w.rect(r)
	}
}

// Draw draws non-indexed primitives.
type Draw struct {
	noRefs
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (Draw) Opcode() Opcode { return OpDraw }
func (Draw) Size() int      { return 20 }

func (d Draw) encode(w *writer) {
	w.u32(d.VertexCount)
	w.u32(d.InstanceCount)
	w.u32(d.FirstVertex)
	w.u32(d.FirstInstance)
}

// DrawIndexed draws indexed primitives.
type DrawIndexed struct {
	noRefs
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

func (DrawIndexed) Opcode() Opcode { return OpDrawIndexed }
func (DrawIndexed) Size() int      { return 24 }

func (d DrawIndexed) encode(w *writer) {
	w.u32(d.IndexCount)
	w.u32(d.InstanceCount)
	w.u32(d.FirstIndex)
	w.i32(d.BaseVertex)
	w.u32(d.FirstInstance)
}

// Dispatch runs the bound compute shader.
type Dispatch struct {
	noRefs
	X, Y, Z uint32
}

func (Dispatch) Opcode() Opcode { return OpDispatch }
func (Dispatch) Size() int      { return 16 }

func (d Dispatch) encode(w *writer) {
	w.u32(d.X)
	w.u32(d.Y)
	w.u32(d.Z)
}

// Blit copies a rectangle between textures, scaling with Filter.
type Blit struct {
	Src, Dst         resource.ID
	SrcRect, DstRect image.Rectangle
	Filter           gputypes.FilterMode
}

func (Blit) Opcode() Opcode { return OpBlit }
func (Blit) Size() int      { return 16 + 2*rectSize }

func (b Blit) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(appendID(ids, b.Src), b.Dst)
}

func (b Blit) encode(w *writer) {
	w.u32(uint32(b.Src))
	w.u32(uint32(b.Dst))
	w.rect(b.SrcRect)
	w.rect(b.DstRect)
	w.u32(uint32(b.Filter))
}

// UpdateBuffer copies Data into a buffer at Offset.
type UpdateBuffer struct {
	Buffer resource.ID
	Offset uint64
	Data   []byte
}

func (UpdateBuffer) Opcode() Opcode { return OpUpdateBuffer }
func (u UpdateBuffer) Size() int    { return 20 + pad4(len(u.Data)) }

func (u UpdateBuffer) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, u.Buffer)
}

func (u UpdateBuffer) encode(w *writer) {
	w.u32(uint32(u.Buffer))
	w.u64(u.Offset)
	w.u32(uint32(len(u.Data)))
	w.raw(u.Data)
}

// Present hands a texture to the backend for display.
type Present struct {
	Texture      resource.ID
	SyncInterval uint32
}

func (Present) Opcode() Opcode { return OpPresent }
func (Present) Size() int      { return 12 }

func (p Present) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, p.Texture)
}

func (p Present) encode(w *writer) {
	w.u32(uint32(p.Texture))
	w.u32(p.SyncInterval)
}

// IssueQuery starts an asynchronous query.
type IssueQuery struct {
	Query resource.ID
}

func (IssueQuery) Opcode() Opcode { return OpIssueQuery }
func (IssueQuery) Size() int      { return 8 }

func (q IssueQuery) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, q.Query)
}

func (q IssueQuery) encode(w *writer) { w.u32(uint32(q.Query)) }

// Map maps a buffer range and stores the result in the one-shot slot Result.
type Map struct {
	Buffer resource.ID
	Offset uint64
	Length uint64
	Result uint32
}

func (Map) Opcode() Opcode { return OpMap }
func (Map) Size() int      { return 28 }

func (m Map) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, m.Buffer)
}

func (m Map) encode(w *writer) {
	w.u32(uint32(m.Buffer))
	w.u64(m.Offset)
	w.u64(m.Length)
	w.u32(m.Result)
}

// Unmap unmaps a buffer.
type Unmap struct {
	Buffer resource.ID
}

func (Unmap) Opcode() Opcode { return OpUnmap }
func (Unmap) Size() int      { return 8 }

func (u Unmap) AppendRefs(ids []resource.ID) []resource.ID {
	return appendID(ids, u.Buffer)
}

func (u Unmap) encode(w *writer) { w.u32(uint32(u.Buffer)) }

// DestroyObject runs the one-shot destroy entry with the given id: an
// object paired with the function that frees it.
type DestroyObject struct {
	noRefs
	Entry uint32
}

func (DestroyObject) Opcode() Opcode     { return OpDestroyObject }
func (DestroyObject) Size() int          { return 8 }
func (d DestroyObject) encode(w *writer) { w.u32(d.Entry) }
