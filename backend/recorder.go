package backend

import (
	"fmt"
	"sync"

	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/state"
)

// NameRecorder is the name of the call-recording backend.
const NameRecorder = "recorder"

// CallType identifies a backend method in a recorded call log.
type CallType uint8

const (
	CallInit CallType = iota
	CallApplyState
	CallClear
	CallDraw
	CallDrawIndexed
	CallDispatch
	CallBlit
	CallPresent
	CallClose
)

// callTypeNames maps CallType values to their string representation.
var callTypeNames = [...]string{
	CallInit:        "Init",
	CallApplyState:  "ApplyState",
	CallClear:       "Clear",
	CallDraw:        "Draw",
	CallDrawIndexed: "DrawIndexed",
	CallDispatch:    "Dispatch",
	CallBlit:        "Blit",
	CallPresent:     "Present",
	CallClose:       "Close",
}

// String returns a human-readable name for the call type.
func (c CallType) String() string {
	if int(c) < len(callTypeNames) {
		return callTypeNames[c]
	}
	return fmt.Sprintf("CallType(%d)", c)
}

// Call is one entry of the recorded log.
type Call struct {
	Type CallType

	// State and Dirty are set for ApplyState.
	State state.Shadow
	Dirty state.Dirty

	// Record is the work command for the other call types.
	Record command.Record
}

// Recorder is a backend that logs every call in order.
// It is safe to read the log from another goroutine.
type Recorder struct {
	mu    sync.Mutex
	calls []Call

	// FailOn makes the named call type return an error, for tests.
	FailOn map[CallType]error
}

// init registers the recorder backend on package import.
func init() {
	Register(NameRecorder, func() Backend {
		return NewRecorder()
	})
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Name returns the backend identifier.
func (r *Recorder) Name() string { return NameRecorder }

func (r *Recorder) add(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.FailOn[c.Type]
}

// Init records the call.
func (r *Recorder) Init(Resolver) error {
	return r.add(Call{Type: CallInit})
}

// Close records the call.
func (r *Recorder) Close() {
	_ = r.add(Call{Type: CallClose})
}

// ApplyState records a snapshot of s.
func (r *Recorder) ApplyState(s *state.Shadow, dirty state.Dirty) error {
	return r.add(Call{Type: CallApplyState, State: s.Snapshot(), Dirty: dirty})
}

// Clear records the call.
func (r *Recorder) Clear(c command.Clear) error {
	return r.add(Call{Type: CallClear, Record: c})
}

// Draw records the call.
func (r *Recorder) Draw(d command.Draw) error {
	return r.add(Call{Type: CallDraw, Record: d})
}

// DrawIndexed records the call.
func (r *Recorder) DrawIndexed(d command.DrawIndexed) error {
	return r.add(Call{Type: CallDrawIndexed, Record: d})
}

// Dispatch records the call.
func (r *Recorder) Dispatch(d command.Dispatch) error {
	return r.add(Call{Type: CallDispatch, Record: d})
}

// Blit records the call.
func (r *Recorder) Blit(b command.Blit) error {
	return r.add(Call{Type: CallBlit, Record: b})
}

// Present records the call.
func (r *Recorder) Present(p command.Present) error {
	return r.add(Call{Type: CallPresent, Record: p})
}

// Calls returns a copy of the log.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many calls of type t were recorded.
func (r *Recorder) Count(t CallType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Type == t {
			n++
		}
	}
	return n
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
