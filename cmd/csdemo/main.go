// Command csdemo records a small scene into a command stream, renders it
// with the software backend and writes the presented frame as a PNG.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cmdstream"
	"github.com/gogpu/cmdstream/backend"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
)

func main() {
	var (
		width   = flag.Int("width", 800, "image width")
		height  = flag.Int("height", 600, "image height")
		output  = flag.String("output", "demo.png", "output file")
		inline  = flag.Bool("inline", false, "execute on the calling goroutine")
		verbose = flag.Bool("v", false, "log stream activity to stderr")
		name    = flag.String("backend", "", "backend name (default: best available)")
	)
	flag.Parse()

	if *verbose {
		cmdstream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	mode := cmdstream.ModeThreaded
	if *inline {
		mode = cmdstream.ModeInline
	}
	be, err := selectBackend(*name)
	if err != nil {
		log.Fatal(err)
	}
	s, err := cmdstream.New(be, cmdstream.WithMode(mode))
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	start := time.Now()
	if err := render(s, *width, *height); err != nil {
		log.Fatalf("Failed to record: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Finish(ctx); err != nil {
		log.Fatalf("Failed to finish: %v", err)
	}
	if err := s.Err(); err != nil {
		log.Fatalf("Backend error: %v", err)
	}
	st := s.Stats()
	if err := s.Close(); err != nil {
		log.Fatalf("Failed to close: %v", err)
	}

	sw, ok := be.(*backend.SoftwareBackend)
	if !ok {
		log.Printf("Backend %s produced no image: %d commands, %d lane wraps in %v\n",
			be.Name(), st.Executed, st.Normal.Wraps, time.Since(start))
		return
	}
	if err := savePNG(*output, sw.Frame()); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	log.Printf("Demo saved to %s (%dx%d, %v mode): %d commands, %d lane wraps in %v\n",
		*output, *width, *height, mode, st.Executed, st.Normal.Wraps, time.Since(start))
}

func selectBackend(name string) (backend.Backend, error) {
	if name == "" {
		return backend.MustDefault(), nil
	}
	if !backend.IsRegistered(name) {
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(backend.Available(), ", "))
	}
	return backend.Get(name), nil
}

// render records the whole scene: a banded background, a grid of tiles and
// a small offscreen pattern scaled into the corner.
func render(s *cmdstream.Stream, w, h int) error {
	frame, err := s.CreateTexture(resource.TextureDescriptor{
		Label:  "frame",
		Width:  uint32(w),
		Height: uint32(h),
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return err
	}
	if err := s.SetRenderTarget(0, frame); err != nil {
		return err
	}

	drawBackground(s, w, h)
	drawTiles(s, w, h)
	if err := drawInset(s, frame, w, h); err != nil {
		return err
	}
	return s.Present(frame, 1)
}

func drawBackground(s *cmdstream.Stream, w, h int) {
	steps := 100
	for i := 0; i < steps; i++ {
		t := float32(i) / float32(steps)
		c := state.Color{R: 0.1 + t*0.4, G: 0.2 + t*0.3, B: 0.4 + t*0.2, A: 1}
		y0 := h * i / steps
		y1 := h * (i + 1) / steps
		_ = s.Clear(cmdstream.ClearColor, c, 1, 0, image.Rect(0, y0, w, y1))
	}
}

func drawTiles(s *cmdstream.Stream, w, h int) {
	const n = 8
	tw, th := w/(2*n), h/(2*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			fx, fy := float32(x)/n, float32(y)/n
			r := image.Rect(w/4+x*tw, h/4+y*th, w/4+(x+1)*tw-2, h/4+(y+1)*th-2)
			_ = s.SetScissor(r)
			_ = s.Clear(cmdstream.ClearColor, state.Color{R: fx, G: 1 - fy, B: 0.5, A: 1}, 1, 0)
		}
	}
	_ = s.SetScissor(image.Rectangle{})
}

// drawInset renders a checkerboard into a tiny texture and blits it,
// magnified, into the bottom right corner of dst.
func drawInset(s *cmdstream.Stream, dst *resource.Texture, w, h int) error {
	const size = 8
	pattern, err := s.CreateTexture(resource.TextureDescriptor{
		Label:  "pattern",
		Width:  size,
		Height: size,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return err
	}
	if err := s.SetRenderTarget(0, pattern); err != nil {
		return err
	}
	_ = s.Clear(cmdstream.ClearColor, state.Color{R: 1, G: 1, B: 1, A: 1}, 1, 0)
	var dark []image.Rectangle
	for y := 0; y < size; y++ {
		for x := (y & 1); x < size; x += 2 {
			dark = append(dark, image.Rect(x, y, x+1, y+1))
		}
	}
	_ = s.Clear(cmdstream.ClearColor, state.Color{A: 1}, 1, 0, dark...)
	if err := s.SetRenderTarget(0, dst); err != nil {
		return err
	}

	side := min(w, h) / 4
	r := image.Rect(w-side-16, h-side-16, w-16, h-16)
	if err := s.Blit(pattern, dst, image.Rectangle{}, r, gputypes.FilterModeNearest); err != nil {
		return err
	}
	return s.DestroyResource(pattern)
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
