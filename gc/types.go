package gc

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"
)

// A MarkFunc traces one object of a foreign type. It must not alter collector
// state except by enqueueing references through the given context, and it
// must not allocate, block, or trigger a collection. It returns how many
// objects it newly enqueued; the collector only uses the count for
// accounting.
type MarkFunc func(ctx *Context, obj Object) uintptr

// A SweepFunc releases external resources held by one object of a foreign
// type. It runs during the sweep phase, after the object has been determined
// unreachable, and only if the object was scheduled with
// ScheduleForeignSweep. It must not allocate or trigger a collection, and it
// has no way to report failure: an unrecoverable condition must abort the
// process.
type SweepFunc func(obj Object)

// foreignDesc is the mark/sweep function pair of a foreign type. It is
// replaced wholesale on reinitialization so a cycle never observes one new
// and one old function.
type foreignDesc struct {
	mark  MarkFunc
	sweep SweepFunc
}

type typeFlags uint8

const (
	// typeAnyLayout marks a type whose subtypes may have a layout the
	// collector does not understand. Only such types may be the supertype of
	// a foreign type.
	typeAnyLayout typeFlags = 1 << iota

	// typeForeign marks a registered foreign type.
	typeForeign

	// typeHasPointers is set when instances may contain references to other
	// collector-managed objects.
	typeHasPointers

	// typeLarge routes instances to the externally tracked allocation path
	// instead of the block pool.
	typeLarge
)

// A Type is the identity of a class of collector-managed objects and directs
// how their instances are traced and swept. Foreign types carry a dynamic
// mark/sweep descriptor instead of a layout the collector can interpret.
//
// Type identity is the pointer itself: it is stable across
// ReinitForeignType, so references held by other clients stay valid when the
// mark/sweep logic is swapped.
type Type struct {
	name   string
	module string
	super  *Type
	flags  typeFlags

	// dyn is non-nil exactly for foreign types.
	dyn atomic.Pointer[foreignDesc]
}

// Name returns the name the type was registered under.
func (t *Type) Name() string { return t.name }

// Module returns the owning module name the type was registered under.
func (t *Type) Module() string { return t.module }

// Super returns the registered supertype, or nil for a root type.
func (t *Type) Super() *Type { return t.super }

// Built-in types for ordinary (non-foreign) allocations.
var (
	// TypeAny is the root marker type permitting subtypes of arbitrary
	// layout. It is the conventional supertype for foreign types.
	TypeAny = &Type{name: "Any", flags: typeAnyLayout}

	// TypeOpaque describes pointer-free data. Instances contribute no
	// outgoing edges and are skipped by the mark phase.
	TypeOpaque = &Type{name: "Opaque", super: TypeAny}

	// TypeConservative describes data of unknown layout. Every word of an
	// instance is treated as a potential pointer.
	TypeConservative = &Type{name: "Conservative", super: TypeAny, flags: typeHasPointers}
)

var (
	// ErrNotAnyLayout is returned when the requested supertype does not
	// permit subtypes of arbitrary layout.
	ErrNotAnyLayout = errors.New("gc: supertype does not permit foreign subtypes")

	// ErrMissingMark is returned when a foreign type declares pointers but
	// supplies no mark function.
	ErrMissingMark = errors.New("gc: foreign type with pointers needs a mark function")
)

// typeRegistry records every registered type so classification queries can
// tell real type identities from stray pointers. Registration is rare
// (setup-time); collection cycles only read.
var typeRegistry struct {
	sync.RWMutex
	types map[*Type]struct{}
}

func resetTypes() {
	typeRegistry.Lock()
	typeRegistry.types = map[*Type]struct{}{
		TypeAny:          {},
		TypeOpaque:       {},
		TypeConservative: {},
	}
	typeRegistry.Unlock()
}

// RegisterForeignType creates a new type whose instances are opaque to the
// collector: their liveness graph is defined entirely by the given mark
// function, and their destruction-time work by the sweep function (which only
// runs for objects scheduled with ScheduleForeignSweep).
//
// super must permit subtypes of arbitrary layout (conventionally TypeAny).
// mark is required when hasPointers is set; a pointer-free foreign type may
// pass nil and trivially contributes no edges. isLarge routes instances to
// the externally tracked allocation path, which ClassifyPointer does not
// cover.
func RegisterForeignType(name, module string, super *Type, mark MarkFunc, sweep SweepFunc, hasPointers, isLarge bool) (*Type, error) {
	if super == nil || super.flags&typeAnyLayout == 0 {
		return nil, ErrNotAnyLayout
	}
	if hasPointers && mark == nil {
		return nil, ErrMissingMark
	}
	t := &Type{
		name:   name,
		module: module,
		super:  super,
		flags:  typeForeign,
	}
	if hasPointers {
		t.flags |= typeHasPointers
	}
	if isLarge {
		t.flags |= typeLarge
	}
	t.dyn.Store(&foreignDesc{mark: mark, sweep: sweep})

	typeRegistry.Lock()
	typeRegistry.types[t] = struct{}{}
	typeRegistry.Unlock()
	return t, nil
}

// ReinitForeignType swaps the mark and sweep functions of an already
// registered foreign type, for example after reloading the code that
// implements them. Existing instances and the type's identity are unaffected.
// It reports false, without changing any state, if t is not a foreign type.
//
// The swap is not synchronized with an in-flight collection: callers must not
// reinitialize a type while a cycle may be marking its instances.
func ReinitForeignType(t *Type, mark MarkFunc, sweep SweepFunc) bool {
	if t == nil || t.flags&typeForeign == 0 {
		return false
	}
	if t.flags&typeHasPointers != 0 && mark == nil {
		return false
	}
	t.dyn.Store(&foreignDesc{mark: mark, sweep: sweep})
	return true
}

// IsForeignType reports whether t was registered as a foreign type. It has no
// side effects and is safe to call at any time.
func IsForeignType(t *Type) bool {
	return t != nil && t.flags&typeForeign != 0
}

// IsRegisteredType reports whether t is a real, registered type identity.
// Callers tracking external allocations through the notification callbacks
// use this to validate that a matched address carries a proper type before
// treating it as a live object.
func IsRegisteredType(t *Type) bool {
	typeRegistry.RLock()
	_, ok := typeRegistry.types[t]
	typeRegistry.RUnlock()
	return ok
}

// MaxInternalObjectSize returns the largest object size the pooled allocation
// path supports. Requests beyond it, and instances of types registered with
// isLarge, are tracked externally.
func MaxInternalObjectSize() uintptr {
	return maxPoolBlocks*bytesPerBlock - headerSize
}

// ExternalObjectHeaderSize returns the fixed bookkeeping overhead prefixed to
// every collector-managed allocation. Callers computing sizes or offsets
// against raw memory must account for it.
func ExternalObjectHeaderSize() uintptr {
	return headerSize
}

// TypeOf returns the type an object was allocated with, or nil for untyped
// allocations.
func TypeOf(obj Object) *Type {
	if gcAsserts && obj == NoObject {
		runtimePanic("gc: TypeOf on NoObject")
	}
	return obj.header().typ
}

// Size returns the usable size of an object's data in bytes.
func Size(obj Object) uintptr {
	hdr := obj.header()
	if isOnHeap(uintptr(obj)) {
		start := uintptr(unsafe.Pointer(hdr))
		end := blockFromAddr(start).findNext().address()
		return end - uintptr(obj)
	}
	gcLock.Lock()
	large := largeObjects[obj]
	gcLock.Unlock()
	if large == nil {
		runtimePanic("gc: Size on unknown object")
	}
	return large.size
}
