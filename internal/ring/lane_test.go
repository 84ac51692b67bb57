// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

// opTest is a record used only by these tests: opcode, size, sequence.
const opTest uint32 = 7

func writeTestRecord(t *testing.T, l *Lane, seq uint32, size int) {
	t.Helper()
	b, err := l.Reserve(size)
	if err != nil {
		t.Fatalf("Reserve(%d) error = %v", size, err)
	}
	if len(b) != size {
		t.Fatalf("Reserve(%d) returned %d bytes", size, len(b))
	}
	binary.LittleEndian.PutUint32(b, opTest)
	binary.LittleEndian.PutUint32(b[4:], uint32(size))
	binary.LittleEndian.PutUint32(b[8:], seq)
	l.Publish(size)
}

// readTestRecord consumes one record and returns its opcode and sequence.
func readTestRecord(t *testing.T, l *Lane) (op uint32, seq uint32, n int) {
	t.Helper()
	b := l.Readable()
	if len(b) < HeaderSize {
		t.Fatalf("Readable() = %d bytes, want a record", len(b))
	}
	op = binary.LittleEndian.Uint32(b)
	switch op {
	case OpNop:
		n = HeaderSize
	case OpSkip, opTest:
		n = int(binary.LittleEndian.Uint32(b[4:]))
		if op == opTest {
			seq = binary.LittleEndian.Uint32(b[8:])
		}
	default:
		t.Fatalf("unexpected opcode %d", op)
	}
	if n > len(b) {
		t.Fatalf("record length %d exceeds readable %d", n, len(b))
	}
	l.Consume(n)
	return op, seq, n
}

func TestNew_RoundsCapacity(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, MinCapacity},
		{10, MinCapacity},
		{64, 64},
		{65, 128},
		{1000, 1024},
		{4096, 4096},
	}
	for _, tt := range tests {
		l := New(Options{Capacity: tt.in})
		if got := l.Capacity(); got != tt.want {
			t.Errorf("New(%d).Capacity() = %d, want %d", tt.in, got, tt.want)
		}
		if !l.Empty() {
			t.Errorf("New(%d) should be empty", tt.in)
		}
	}
}

func TestLane_RoundTrip(t *testing.T) {
	l := New(Options{Capacity: 256})
	for i := range 5 {
		writeTestRecord(t, l, uint32(i), 16)
	}
	if got := l.Used(); got != 80 {
		t.Fatalf("Used() = %d, want 80", got)
	}
	for i := range 5 {
		op, seq, _ := readTestRecord(t, l)
		if op != opTest || seq != uint32(i) {
			t.Fatalf("record %d: op=%d seq=%d", i, op, seq)
		}
	}
	if !l.Empty() {
		t.Fatal("lane should be empty after consuming everything")
	}
	if l.Readable() != nil {
		t.Fatal("Readable() on empty lane should be nil")
	}
}

func TestLane_ReserveBadSize(t *testing.T) {
	l := New(Options{Capacity: 64})
	for _, n := range []int{0, -4, 3, 13} {
		if _, err := l.Reserve(n); !errors.Is(err, ErrBadSize) {
			t.Errorf("Reserve(%d) error = %v, want ErrBadSize", n, err)
		}
	}
}

func TestLane_ReserveTooLarge(t *testing.T) {
	l := New(Options{Capacity: 64})
	if _, err := l.Reserve(128); !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("Reserve(128) error = %v, want ErrRecordTooLarge", err)
	}
}

// A record 8 bytes larger than the contiguous remainder is preceded by a
// Skip covering the remainder and written at offset 0.
func TestLane_WrapInsertsSkip(t *testing.T) {
	l := New(Options{Capacity: 64})

	writeTestRecord(t, l, 0, 56)
	readTestRecord(t, l)

	// 8 bytes remain before the physical end; ask for 16.
	writeTestRecord(t, l, 1, 16)

	st := l.Stats()
	if st.Head != 56+8+16 {
		t.Fatalf("head = %d, want %d (records + skip)", st.Head, 56+8+16)
	}
	if st.Used != 8+16 {
		t.Fatalf("used = %d, want 24", st.Used)
	}
	if st.Wraps != 1 {
		t.Fatalf("wraps = %d, want 1", st.Wraps)
	}
	if op := binary.LittleEndian.Uint32(l.buf[56:]); op != OpSkip {
		t.Fatalf("opcode at 56 = %d, want OpSkip", op)
	}
	if n := binary.LittleEndian.Uint32(l.buf[60:]); n != 8 {
		t.Fatalf("skip length = %d, want 8", n)
	}
	if seq := binary.LittleEndian.Uint32(l.buf[8:]); seq != 1 {
		t.Fatalf("record at offset 0 has seq %d, want 1", seq)
	}

	op, _, n := readTestRecord(t, l)
	if op != OpSkip || n != 8 {
		t.Fatalf("first read = op %d len %d, want skip of 8", op, n)
	}
	op, seq, _ := readTestRecord(t, l)
	if op != opTest || seq != 1 {
		t.Fatalf("second read = op %d seq %d, want test record 1", op, seq)
	}
}

func TestLane_WrapInsertsNop(t *testing.T) {
	l := New(Options{Capacity: 64})
	writeTestRecord(t, l, 0, 60)
	readTestRecord(t, l)

	writeTestRecord(t, l, 1, 12)

	if op := binary.LittleEndian.Uint32(l.buf[60:]); op != OpNop {
		t.Fatalf("opcode at 60 = %d, want OpNop", op)
	}
	op, _, n := readTestRecord(t, l)
	if op != OpNop || n != HeaderSize {
		t.Fatalf("first read = op %d len %d, want nop", op, n)
	}
	if _, seq, _ := readTestRecord(t, l); seq != 1 {
		t.Fatalf("seq = %d, want 1", seq)
	}
}

func TestLane_GrowPreservesOrder(t *testing.T) {
	l := New(Options{Capacity: 64, MaxCapacity: 1024})
	if !l.Growable() {
		t.Fatal("lane should be growable")
	}

	// Move the indices so the unread region wraps before growing.
	writeTestRecord(t, l, 100, 48)
	readTestRecord(t, l)

	for i := range 20 {
		writeTestRecord(t, l, uint32(i), 16)
	}
	if l.Capacity() <= 64 {
		t.Fatalf("Capacity() = %d, want growth", l.Capacity())
	}
	if l.Stats().Grows == 0 {
		t.Fatal("expected at least one grow")
	}

	for want := uint32(0); want < 20; {
		op, seq, _ := readTestRecord(t, l)
		if op != opTest {
			continue
		}
		if seq != want {
			t.Fatalf("seq = %d, want %d", seq, want)
		}
		want++
	}
	if !l.Empty() {
		t.Fatal("lane should be empty")
	}
}

func TestLane_GrowOutOfMemory(t *testing.T) {
	l := New(Options{Capacity: 64, MaxCapacity: 128})
	var err error
	for i := 0; i < 64 && err == nil; i++ {
		var b []byte
		b, err = l.Reserve(16)
		if err == nil {
			binary.LittleEndian.PutUint32(b, opTest)
			binary.LittleEndian.PutUint32(b[4:], 16)
			l.Publish(16)
		}
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("error = %v, want ErrOutOfMemory", err)
	}
	if l.Capacity() != 128 {
		t.Fatalf("Capacity() = %d, want 128", l.Capacity())
	}
}

// A full inline lane that cannot grow has no consumer to wait for, so it
// fails instead of parking the producer forever.
func TestLane_InlineFullFails(t *testing.T) {
	l := New(Options{Capacity: 64, Inline: true})
	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 64 && err == nil; i++ {
			var b []byte
			b, err = l.Reserve(16)
			if err == nil {
				binary.LittleEndian.PutUint32(b, opTest)
				binary.LittleEndian.PutUint32(b[4:], 16)
				l.Publish(16)
			}
		}
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrOutOfMemory) {
			t.Fatalf("error = %v, want ErrOutOfMemory", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Reserve parked on a full inline lane")
	}
	if got := l.Stats(); got.Used != 64 || got.FullWaits != 0 {
		t.Errorf("Stats() = %+v, want 64 bytes used and no full waits", got)
	}
}

func TestLane_StatsDuringGrowth(t *testing.T) {
	l := New(Options{Capacity: 64, MaxCapacity: 1 << 12, Inline: true})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if c := l.Stats().Capacity; c < 64 || c&(c-1) != 0 {
					t.Errorf("Stats().Capacity = %d, want a power of two >= 64", c)
					return
				}
			}
		}
	}()
	var err error
	for err == nil {
		var b []byte
		if b, err = l.Reserve(16); err == nil {
			binary.LittleEndian.PutUint32(b, opTest)
			binary.LittleEndian.PutUint32(b[4:], 16)
			l.Publish(16)
		}
	}
	close(stop)
	wg.Wait()
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("error = %v, want ErrOutOfMemory", err)
	}
	if got := l.Stats(); got.Capacity != 1<<12 || got.Grows != 6 {
		t.Errorf("Stats() = %+v, want capacity 4096 after 6 grows", got)
	}
}

// The producer blocks on a full lane and resumes as the consumer drains;
// every record arrives once and in order across many wraparounds.
func TestLane_BackpressureConcurrent(t *testing.T) {
	records := 50000
	if testing.Short() {
		records = 5000
	}
	waker := NewParker()
	l := New(Options{Capacity: 128, SpinCount: 4, Waker: waker})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range records {
			size := 12 + 4*(i%7)
			b, err := l.Reserve(size)
			if err != nil {
				t.Errorf("Reserve error = %v", err)
				return
			}
			binary.LittleEndian.PutUint32(b, opTest)
			binary.LittleEndian.PutUint32(b[4:], uint32(size))
			binary.LittleEndian.PutUint32(b[8:], uint32(i))
			l.Publish(size)
		}
	}()

	next := uint32(0)
	deadline := time.Now().Add(10 * time.Second)
	for int(next) < records {
		if time.Now().After(deadline) {
			t.Fatalf("timed out at record %d", next)
		}
		if l.Empty() {
			waker.Park(func() bool { return !l.Empty() }, 10*time.Millisecond)
			continue
		}
		op, seq, _ := readTestRecord(t, l)
		if op != opTest {
			continue
		}
		if seq != next {
			t.Fatalf("seq = %d, want %d", seq, next)
		}
		next++
	}
	wg.Wait()

	st := l.Stats()
	if st.Wraps == 0 {
		t.Error("expected wraparounds")
	}
	if st.Used != 0 {
		t.Errorf("used = %d, want 0", st.Used)
	}
}

func TestParker_WakeUnparks(t *testing.T) {
	p := NewParker()
	var ready sync.WaitGroup
	var flag atomicFlag
	ready.Add(1)
	done := make(chan bool)
	go func() {
		ready.Done()
		done <- p.Park(flag.get, 0)
	}()
	ready.Wait()
	time.Sleep(5 * time.Millisecond)
	flag.set()
	p.Wake()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Park returned false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Park did not return after Wake")
	}
}

func TestParker_Timeout(t *testing.T) {
	p := NewParker()
	start := time.Now()
	if p.Park(func() bool { return false }, 10*time.Millisecond) {
		t.Fatal("Park should report false on timeout")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("Park returned before the timeout")
	}
}

func TestSpin(t *testing.T) {
	calls := 0
	if !Spin(10, func() bool { calls++; return calls == 3 }) {
		t.Fatal("Spin should succeed")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if Spin(2, func() bool { return false }) {
		t.Fatal("Spin should fail")
	}
}

type atomicFlag struct {
	mu sync.Mutex
	v  bool
}

func (f *atomicFlag) set() {
	f.mu.Lock()
	f.v = true
	f.mu.Unlock()
}

func (f *atomicFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}
