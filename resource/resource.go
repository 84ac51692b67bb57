// Package resource defines the objects that command records refer to and the
// reference count that keeps them alive across the asynchrony boundary.
//
// Every resource carries a pending-use count. The encoder acquires a
// reference for each resource a record touches before the record is
// published, and the executor releases it after the record ran. Destruction
// is itself a record queued behind every earlier use, so by the time it
// executes the count is back to zero.
package resource

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Resource errors.
var (
	// ErrInvalidSize is returned for zero or negative sizes.
	ErrInvalidSize = errors.New("resource: invalid size")

	// ErrUnsupportedFormat is returned for texture formats without CPU storage.
	ErrUnsupportedFormat = errors.New("resource: unsupported texture format")

	// ErrCompile is returned when shader source fails to compile.
	ErrCompile = errors.New("resource: shader compilation failed")
)

// ID identifies a resource inside encoded records. Zero means "none".
type ID uint32

// Kind identifies the type of a resource.
type Kind uint8

const (
	KindBuffer Kind = iota + 1
	KindTexture
	KindShader
	KindQuery
)

var kindNames = [...]string{
	KindBuffer:  "Buffer",
	KindTexture: "Texture",
	KindShader:  "Shader",
	KindQuery:   "Query",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Object is implemented by every resource type.
type Object interface {
	// ID returns the id records use to refer to the object.
	ID() ID

	// Kind returns the resource type.
	Kind() Kind

	// Label returns the debug label.
	Label() string

	// Acquire adds a pending reference. Called when a record is encoded.
	Acquire()

	// Release drops a pending reference and returns the remaining count.
	// Called when the record has executed.
	Release() int64

	// Refs returns the number of pending references.
	Refs() int64

	// MarkDestroyed flags the object as queued for destruction. It returns
	// false if the object was already flagged.
	MarkDestroyed() bool

	// Destroyed reports whether destruction has been queued.
	Destroyed() bool

	// Destroy frees the object's storage and runs its destroy callbacks.
	// Only the executor calls it, from the Destroy Object record.
	Destroy()
}

// Resource is the state shared by all resource types. It is embedded by
// Buffer, Texture, Shader and Query.
type Resource struct {
	id    ID
	kind  Kind
	label string

	refs      atomic.Int64
	destroyed atomic.Bool

	mu        sync.Mutex
	callbacks []func()
}

func (r *Resource) init(id ID, kind Kind, label string) {
	r.id = id
	r.kind = kind
	r.label = label
}

// ID implements Object.
func (r *Resource) ID() ID { return r.id }

// Kind implements Object.
func (r *Resource) Kind() Kind { return r.kind }

// Label implements Object.
func (r *Resource) Label() string { return r.label }

// Acquire implements Object.
func (r *Resource) Acquire() { r.refs.Add(1) }

// Release implements Object.
func (r *Resource) Release() int64 { return r.refs.Add(-1) }

// Refs implements Object.
func (r *Resource) Refs() int64 { return r.refs.Load() }

// MarkDestroyed implements Object.
func (r *Resource) MarkDestroyed() bool { return r.destroyed.CompareAndSwap(false, true) }

// Destroyed implements Object.
func (r *Resource) Destroyed() bool { return r.destroyed.Load() }

// OnDestroy registers fn to run when the executor destroys the resource.
// Callbacks run on the executing goroutine in registration order.
func (r *Resource) OnDestroy(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

func (r *Resource) runDestroyCallbacks() {
	r.mu.Lock()
	cbs := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}

// String returns a short description for logs.
func (r *Resource) String() string {
	if r.label != "" {
		return fmt.Sprintf("%s#%d(%s)", r.kind, r.id, r.label)
	}
	return fmt.Sprintf("%s#%d", r.kind, r.id)
}
