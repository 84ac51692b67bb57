// Package cmdstream records graphics commands on one goroutine and executes
// them, in order, against a backend without making the caller wait.
//
// # Overview
//
// Every Stream method encodes one command into a ring buffer lane and
// returns. An executor drains the lanes, keeps a private shadow of the
// pipeline state, hands the dirty parts of that state to the backend right
// before each draw, and calls the backend. Two lanes exist: the normal lane
// carries almost everything, the priority lane carries buffer maps and is
// checked before every normal command.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/cmdstream"
//	    "github.com/gogpu/cmdstream/backend"
//	)
//
//	sw := backend.NewSoftwareBackend()
//	s, err := cmdstream.New(sw)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	rt, _ := s.CreateTexture(resource.TextureDescriptor{
//	    Width: 256, Height: 256,
//	    Usage: gputypes.TextureUsageRenderAttachment,
//	})
//	s.SetRenderTarget(0, rt)
//	s.Clear(cmdstream.ClearColor, state.Color{R: 1, A: 1}, 1, 0)
//	s.Present(rt, 1)
//	s.Finish(ctx)
//	img := sw.Frame()
//
// # Execution Modes
//
// ModeThreaded (the default) runs the executor on its own goroutine. When
// a lane is full the producer spins briefly and then blocks until the
// executor frees space. ModeInline executes each command before the method
// that recorded it returns; its lanes grow instead of blocking. Both modes
// run the same dispatch table and produce the same backend calls.
//
// # Synchronization
//
// Finish returns once every command recorded before it has executed.
// Results of deferred work (mapped buffer contents, query status, backend
// errors via Err) are only read after such a point. Callbacks run on the
// executor with a context that makes Finish fail with ErrReentrantFinish
// instead of deadlocking.
//
// # Resource Lifetime
//
// Resources are created through the stream and referenced by id inside
// commands. Recording a command acquires a reference on every resource it
// names; executing it releases them. DestroyResource records the
// destruction as one more command, so it runs after every earlier use.
//
// # Logging
//
// cmdstream is silent by default. SetLogger enables log/slog output; each
// stream tags its records with a "stream" attribute holding its id.
package cmdstream

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
