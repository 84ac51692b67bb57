package backend

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/gogpu/cmdstream/command"
	texel "github.com/gogpu/cmdstream/internal/color"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
	"github.com/gogpu/gputypes"
)

// NameSoftware is the name of the CPU-based software backend.
const NameSoftware = "software"

// SoftwareStats counts the work a software backend has executed.
type SoftwareStats struct {
	Clears     int
	Draws      int
	Vertices   int
	Dispatches int
	Blits      int
	Presents   int
}

// SoftwareBackend is a CPU-based backend. Render targets are textures whose
// storage is viewed as image.RGBA; Clear and Blit write real pixels, and
// Present copies the presented texture into a frame readable from any
// goroutine. Draws and dispatches are validated and counted.
type SoftwareBackend struct {
	initialized bool
	res         Resolver
	log         *slog.Logger

	// Mirrors of the state groups the backend consumes.
	targets  [state.MaxRenderTargets]resource.ID
	depth    resource.ID
	scissor  image.Rectangle
	viewport state.Viewport
	shaders  [resource.StageCount]resource.ID

	stats SoftwareStats

	frameMu sync.Mutex
	frame   *image.RGBA
	frames  int
}

// init registers the software backend on package import.
func init() {
	Register(NameSoftware, func() Backend {
		return &SoftwareBackend{}
	})
}

// NewSoftwareBackend creates a new software backend.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{}
}

// Name returns the backend identifier.
func (b *SoftwareBackend) Name() string {
	return NameSoftware
}

// SetLogger sets the logger for frame and lifecycle events. A stream calls
// it with its own logger before Init.
func (b *SoftwareBackend) SetLogger(l *slog.Logger) {
	b.log = l
}

func (b *SoftwareBackend) logger() *slog.Logger {
	if b.log == nil {
		return nopLogger
	}
	return b.log
}

// Init initializes the backend.
func (b *SoftwareBackend) Init(r Resolver) error {
	if r == nil {
		return fmt.Errorf("software backend: %w: nil resolver", ErrNotInitialized)
	}
	b.res = r
	b.initialized = true
	b.logger().Debug("software backend: initialized")
	return nil
}

// Close releases all backend resources.
func (b *SoftwareBackend) Close() {
	b.res = nil
	b.initialized = false
}

// ApplyState copies the consumed groups out of the shadow.
func (b *SoftwareBackend) ApplyState(s *state.Shadow, dirty state.Dirty) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if dirty&state.DirtyTargets != 0 {
		b.targets = s.RenderTargets
		b.depth = s.DepthStencilTarget
	}
	if dirty&state.DirtyScissor != 0 {
		b.scissor = s.Scissor
	}
	if dirty&state.DirtyViewport != 0 {
		b.viewport = s.Viewport
	}
	if dirty&state.DirtyShaders != 0 {
		b.shaders = s.Shaders
	}
	return nil
}

// Clear fills the bound targets selected by c.Flags, restricted to c.Rects
// when present and to the scissor rectangle when one is set.
func (b *SoftwareBackend) Clear(c command.Clear) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	cleared := false
	if c.Flags&command.ClearColor != 0 {
		for _, id := range b.targets {
			tex := b.res.Texture(id)
			if tex == nil {
				continue
			}
			img := tex.RGBA()
			if img == nil {
				return fmt.Errorf("software backend: clear %v: %w: format %v", tex, ErrUnsupported, tex.Format())
			}
			src := image.NewUniform(toNRGBA(c.Color, tex))
			for _, r := range b.clearRects(img.Bounds(), c.Rects) {
				draw.Draw(img, r, src, image.Point{}, draw.Src)
			}
			cleared = true
		}
	}
	if c.Flags&(command.ClearDepth|command.ClearStencil) != 0 {
		if tex := b.res.Texture(b.depth); tex != nil {
			if tex.Format() != gputypes.TextureFormatDepth24PlusStencil8 {
				return fmt.Errorf("software backend: clear %v: %w: format %v", tex, ErrUnsupported, tex.Format())
			}
			for _, r := range b.clearRects(tex.Bounds(), c.Rects) {
				clearDepthStencil(tex, r, c)
			}
			cleared = true
		}
	}
	if !cleared {
		return ErrNoTarget
	}
	b.stats.Clears++
	return nil
}

// clearRects clips rects (or the whole target) to bounds and the scissor.
func (b *SoftwareBackend) clearRects(bounds image.Rectangle, rects []image.Rectangle) []image.Rectangle {
	if !b.scissor.Empty() {
		bounds = bounds.Intersect(b.scissor)
	}
	if len(rects) == 0 {
		return []image.Rectangle{bounds}
	}
	out := make([]image.Rectangle, 0, len(rects))
	for _, r := range rects {
		if r = r.Intersect(bounds); !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// clearDepthStencil writes packed depth (low 24 bits) and stencil (high 8 bits).
func clearDepthStencil(tex *resource.Texture, r image.Rectangle, c command.Clear) {
	depth := uint32(math.Round(float64(clamp01(c.Depth)) * 0xFFFFFF))
	pix, stride := tex.Pix(), tex.Stride()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := pix[y*stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			p := row[x*4 : x*4+4]
			v := binary.LittleEndian.Uint32(p)
			if c.Flags&command.ClearDepth != 0 {
				v = v&0xFF000000 | depth
			}
			if c.Flags&command.ClearStencil != 0 {
				v = v&0x00FFFFFF | (c.Stencil&0xFF)<<24
			}
			binary.LittleEndian.PutUint32(p, v)
		}
	}
}

// Draw validates the bound pipeline and counts the work.
func (b *SoftwareBackend) Draw(d command.Draw) error {
	if err := b.checkDraw(); err != nil {
		return err
	}
	b.stats.Draws++
	b.stats.Vertices += int(d.VertexCount) * int(max(d.InstanceCount, 1))
	return nil
}

// DrawIndexed validates the bound pipeline and counts the work.
func (b *SoftwareBackend) DrawIndexed(d command.DrawIndexed) error {
	if err := b.checkDraw(); err != nil {
		return err
	}
	b.stats.Draws++
	b.stats.Vertices += int(d.IndexCount) * int(max(d.InstanceCount, 1))
	return nil
}

func (b *SoftwareBackend) checkDraw() error {
	if !b.initialized {
		return ErrNotInitialized
	}
	for _, id := range b.targets {
		if id != 0 {
			return nil
		}
	}
	return ErrNoTarget
}

// Dispatch requires a bound compute shader and counts the work.
func (b *SoftwareBackend) Dispatch(d command.Dispatch) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if b.shaders[resource.StageCompute] == 0 {
		return fmt.Errorf("software backend: dispatch %dx%dx%d: %w: no compute shader", d.X, d.Y, d.Z, ErrUnsupported)
	}
	b.stats.Dispatches++
	return nil
}

// Blit scales SrcRect of one color texture into DstRect of another using
// nearest-neighbor or bilinear sampling.
func (b *SoftwareBackend) Blit(bl command.Blit) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	src, dst := b.res.Texture(bl.Src), b.res.Texture(bl.Dst)
	if src == nil || dst == nil {
		return fmt.Errorf("software backend: blit %d -> %d: %w", bl.Src, bl.Dst, ErrNoTarget)
	}
	si, di := src.RGBA(), dst.RGBA()
	if si == nil || di == nil || src.Format() != dst.Format() {
		return fmt.Errorf("software backend: blit %v -> %v: %w", src, dst, ErrUnsupported)
	}
	sr, dr := bl.SrcRect, bl.DstRect
	if sr.Empty() {
		sr = si.Bounds()
	}
	if dr.Empty() {
		dr = di.Bounds()
	}
	scaler(bl.Filter).Scale(di, dr, si, sr.Intersect(si.Bounds()), draw.Src, nil)
	b.stats.Blits++
	return nil
}

func scaler(f gputypes.FilterMode) draw.Interpolator {
	if f == gputypes.FilterModeLinear {
		return draw.ApproxBiLinear
	}
	return draw.NearestNeighbor
}

// Present copies the texture into the backend's frame.
func (b *SoftwareBackend) Present(p command.Present) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	tex := b.res.Texture(p.Texture)
	if tex == nil {
		return fmt.Errorf("software backend: present %d: %w", p.Texture, ErrNoTarget)
	}
	img := tex.RGBA()
	if img == nil {
		return fmt.Errorf("software backend: present %v: %w", tex, ErrUnsupported)
	}

	frame := image.NewRGBA(img.Bounds())
	draw.Draw(frame, frame.Bounds(), img, image.Point{}, draw.Src)
	if tex.IsBGRA() {
		swapRB(frame.Pix)
	}

	b.frameMu.Lock()
	b.frame = frame
	b.frames++
	n := b.frames
	b.frameMu.Unlock()
	b.stats.Presents++
	b.logger().Debug("software backend: frame presented", "frame", n, "texture", tex, "size", frame.Bounds().Size())
	return nil
}

// Frame returns the last presented frame in RGBA order, or nil.
// It is safe to call from any goroutine.
func (b *SoftwareBackend) Frame() *image.RGBA {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()
	return b.frame
}

// Frames returns the number of presented frames.
func (b *SoftwareBackend) Frames() int {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()
	return b.frames
}

// Stats returns the work counters. Read it after the stream is finished.
func (b *SoftwareBackend) Stats() SoftwareStats {
	return b.stats
}

// toNRGBA converts a linear clear color to the texel bytes of tex, in
// storage order.
func toNRGBA(c state.Color, tex *resource.Texture) color.NRGBA {
	encode := texel.Unorm8
	if tex.IsSRGB() {
		encode = texel.EncodeSRGB8
	}
	r, g, bl := encode(c.R), encode(c.G), encode(c.B)
	if tex.IsBGRA() {
		r, bl = bl, r
	}
	return color.NRGBA{R: r, G: g, B: bl, A: texel.Unorm8(c.A)}
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}

func swapRB(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}
