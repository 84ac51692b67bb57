// Package backend defines the collaborator that finally executes decoded
// commands, and ships two implementations.
//
// A stream never calls a backend from the producer side. The executor
// decodes each record, updates its state shadow, and then calls the backend
// with the dirty state groups followed by the work command. Backends resolve
// resource ids through the Resolver passed to Init.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// Both built-in backends are registered on import:
//
//	import _ "github.com/gogpu/cmdstream/backend"
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request
// a specific backend by name:
//
//	b := backend.Default()
//	b := backend.Get("recorder")
//
// # Available Backends
//
//   - "software": CPU render targets backed by image.RGBA; Clear, Blit and
//     Present produce real pixels, draws are counted.
//   - "recorder": keeps an ordered log of every call, including a snapshot
//     of the state each ApplyState saw. Two recorders fed the same commands
//     produce equal logs, which is how execution strategies are compared.
package backend
