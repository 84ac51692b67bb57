package command

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/cmdstream/internal/ring"
)

// Decode errors. Any of them means the lane is corrupt.
var (
	// ErrShortRecord is returned when the bytes end inside a record.
	ErrShortRecord = errors.New("command: truncated record")

	// ErrUnknownOpcode is returned for an opcode with no decoder.
	ErrUnknownOpcode = errors.New("command: unknown opcode")

	// ErrLengthMismatch is returned when the consumed length disagrees with
	// the length the record reports for itself.
	ErrLengthMismatch = errors.New("command: decoded length mismatch")
)

// Encode writes rec into dst, which must hold at least rec.Size() bytes.
// It returns the number of bytes written.
func Encode(dst []byte, rec Record) int {
	w := writer{b: dst[:rec.Size()]}
	w.u32(uint32(rec.Opcode()))
	rec.encode(&w)
	if w.off != len(w.b) {
		panic(fmt.Sprintf("command: %v encoded %d bytes, Size() = %d", rec.Opcode(), w.off, len(w.b)))
	}
	return w.off
}

// Decode decodes the record at the start of b and returns it with the
// number of bytes it occupies. For Skip that is the covered length.
//
// Variable tails of the returned record may alias b.
func Decode(b []byte) (Record, int, error) {
	if len(b) < ring.HeaderSize {
		return nil, 0, ErrShortRecord
	}
	op := Opcode(binary.LittleEndian.Uint32(b))
	if op >= OpCount || decoders[op] == nil {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownOpcode, uint32(op))
	}
	r := reader{b: b, off: ring.HeaderSize}
	rec := decoders[op](&r)
	if r.short {
		return nil, 0, fmt.Errorf("%w: %v needs more than %d bytes", ErrShortRecord, op, len(b))
	}
	if skip, ok := rec.(Skip); ok {
		n := int(skip.Length)
		if n < ring.SkipSize || n%ring.Align != 0 || n > len(b) {
			return nil, 0, fmt.Errorf("%w: skip length %d", ErrLengthMismatch, n)
		}
		return rec, n, nil
	}
	if r.off != rec.Size() {
		return nil, 0, fmt.Errorf("%w: %v consumed %d bytes, Size() = %d", ErrLengthMismatch, op, r.off, rec.Size())
	}
	return rec, r.off, nil
}

// pad4 rounds n up to a multiple of 4.
func pad4(n int) int { return (n + 3) &^ 3 }

// Encoded sizes of composite fields.
const (
	rectSize     = 16
	vec4Size     = 16
	viewportSize = 24
	colorSize    = 16
)

// writer appends little-endian fields to a pre-sized buffer.
type writer struct {
	b   []byte
	off int
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.b[w.off:], v)
	w.off += 4
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.b[w.off:], v)
	w.off += 8
}

func (w *writer) i32(v int32)   { w.u32(uint32(v)) }
func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) flag(v bool) {
	if v {
		w.u32(1)
	} else {
		w.u32(0)
	}
}

func (w *writer) rect(r image.Rectangle) {
	w.i32(int32(r.Min.X))
	w.i32(int32(r.Min.Y))
	w.i32(int32(r.Max.X))
	w.i32(int32(r.Max.Y))
}

// raw copies p and zero-fills up to the next multiple of 4.
func (w *writer) raw(p []byte) {
	n := copy(w.b[w.off:], p)
	end := w.off + pad4(n)
	clear(w.b[w.off+n : end])
	w.off = end
}

// reader consumes little-endian fields. Running past the end sets short and
// yields zero values.
type reader struct {
	b     []byte
	off   int
	short bool
}

func (r *reader) next(n int) []byte {
	if r.short || n < 0 || n > len(r.b)-r.off {
		r.short = true
		return nil
	}
	p := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return p
}

func (r *reader) u32() uint32 {
	p := r.next(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *reader) u64() uint64 {
	p := r.next(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *reader) i32() int32   { return int32(r.u32()) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }
func (r *reader) flag() bool   { return r.u32() != 0 }

func (r *reader) rect() image.Rectangle {
	x0, y0 := r.i32(), r.i32()
	x1, y1 := r.i32(), r.i32()
	return image.Rect(int(x0), int(y0), int(x1), int(y1))
}

// fits reports whether count elements of size bytes each remain, setting
// short when they do not.
func (r *reader) fits(count uint32, size int) bool {
	if r.short || uint64(count)*uint64(size) > uint64(len(r.b)-r.off) {
		r.short = true
		return false
	}
	return true
}
