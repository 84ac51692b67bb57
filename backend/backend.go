package backend

import (
	"errors"
	"log/slog"

	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrNoTarget is returned when an operation needs a bound target and
	// none is bound.
	ErrNoTarget = errors.New("backend: no target bound")

	// ErrUnsupported is returned for operations or formats a backend cannot
	// execute.
	ErrUnsupported = errors.New("backend: unsupported operation")
)

// nopLogger is used by backends that were never given a logger.
var nopLogger = slog.New(slog.DiscardHandler)

// Resolver looks up live resources by id. The executor implements it; a
// backend must only call it from inside one of its own methods.
type Resolver interface {
	Buffer(id resource.ID) *resource.Buffer
	Texture(id resource.ID) *resource.Texture
	Shader(id resource.ID) *resource.Shader
}

// Backend executes decoded commands. All methods are called from the
// executing goroutine only, in command order.
//
// Backends must be registered via Register() and are selected via
// Get() or Default().
type Backend interface {
	// Name returns the backend identifier (e.g., "software", "recorder").
	Name() string

	// Init prepares the backend. r resolves resource ids for the
	// lifetime of the backend.
	Init(r Resolver) error

	// Close releases all backend resources.
	// The backend should not be used after Close is called.
	Close()

	// ApplyState brings the backend up to date with the groups in dirty.
	// It is called lazily, before the first work command after a change.
	ApplyState(s *state.Shadow, dirty state.Dirty) error

	Clear(c command.Clear) error
	Draw(d command.Draw) error
	DrawIndexed(d command.DrawIndexed) error
	Dispatch(d command.Dispatch) error
	Blit(b command.Blit) error
	Present(p command.Present) error
}
