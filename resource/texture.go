package resource

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
)

// TextureDescriptor describes a 2D texture to create.
type TextureDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Width and Height are the texture size in texels.
	Width, Height uint32

	// Format is the texel format.
	Format gputypes.TextureFormat

	// Usage specifies how the texture may be bound.
	Usage gputypes.TextureUsage
}

// Texture is a 2D image with CPU-side storage.
type Texture struct {
	Resource

	size   gputypes.Extent3D
	format gputypes.TextureFormat
	usage  gputypes.TextureUsage
	bpp    int
	pix    []byte
}

// BytesPerTexel returns the storage size of one texel, or 0 when the format
// has no CPU storage here.
func BytesPerTexel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 0
	}
}

// NewTexture allocates a zeroed texture.
func NewTexture(id ID, desc TextureDescriptor) (*Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("texture %q %dx%d: %w", desc.Label, desc.Width, desc.Height, ErrInvalidSize)
	}
	bpp := BytesPerTexel(desc.Format)
	if bpp == 0 {
		return nil, fmt.Errorf("texture %q: %w", desc.Label, ErrUnsupportedFormat)
	}
	t := &Texture{
		size: gputypes.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		format: desc.Format,
		usage:  desc.Usage,
		bpp:    bpp,
		pix:    make([]byte, int(desc.Width)*int(desc.Height)*bpp),
	}
	t.init(id, KindTexture, desc.Label)
	return t, nil
}

// Size returns the texture extent.
func (t *Texture) Size() gputypes.Extent3D { return t.size }

// Width returns the width in texels.
func (t *Texture) Width() int { return int(t.size.Width) }

// Height returns the height in texels.
func (t *Texture) Height() int { return int(t.size.Height) }

// Bounds returns the texture rectangle.
func (t *Texture) Bounds() image.Rectangle {
	return image.Rect(0, 0, t.Width(), t.Height())
}

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// Usage returns the usage flags the texture was created with.
func (t *Texture) Usage() gputypes.TextureUsage { return t.usage }

// HasUsage reports whether all bits of u are set.
func (t *Texture) HasUsage(u gputypes.TextureUsage) bool { return t.usage&u == u }

// Stride returns the number of bytes per row.
func (t *Texture) Stride() int { return t.Width() * t.bpp }

// Pix returns the texel storage. Executor only.
func (t *Texture) Pix() []byte { return t.pix }

// IsColor reports whether the texture holds 8-bit RGBA or BGRA color.
func (t *Texture) IsColor() bool {
	switch t.format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return true
	}
	return false
}

// IsBGRA reports whether color texels are stored blue first.
func (t *Texture) IsBGRA() bool {
	return t.format == gputypes.TextureFormatBGRA8Unorm || t.format == gputypes.TextureFormatBGRA8UnormSrgb
}

// IsSRGB reports whether color texels are gamma-encoded.
func (t *Texture) IsSRGB() bool {
	return t.format == gputypes.TextureFormatRGBA8UnormSrgb || t.format == gputypes.TextureFormatBGRA8UnormSrgb
}

// RGBA returns an image view sharing the texel storage, or nil when the
// texture is not a 4-byte color format. BGRA textures are returned with
// their bytes in storage order. Executor only.
func (t *Texture) RGBA() *image.RGBA {
	if !t.IsColor() || t.pix == nil {
		return nil
	}
	return &image.RGBA{Pix: t.pix, Stride: t.Stride(), Rect: t.Bounds()}
}

// Destroy implements Object.
func (t *Texture) Destroy() {
	t.pix = nil
	t.runDestroyCallbacks()
}
