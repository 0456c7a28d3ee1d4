// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package fanout implements local observer dispatch: registration of
// callbacks for directory mutation events (Add/Update/Delete) and
// connection lifecycle events (ClientConnected/ClientDisconnected), and
// synchronous, lock-free, in-registration-order delivery.
package fanout

import "sync"

// Kind identifies the category of event a callback is registered for.
type Kind int

const (
	Add Kind = iota
	Update
	Delete
	ClientConnected
	ClientDisconnected
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "Add"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	case ClientConnected:
		return "ClientConnected"
	case ClientDisconnected:
		return "ClientDisconnected"
	default:
		return "Unknown"
	}
}

// Event is the payload delivered to a registered callback. Entry is
// populated for the three directory-event kinds; Addr is populated for the
// two connection-event kinds. Entry is typed as interface{} here so that
// fanout has no dependency on the directory package -- callers pass a
// pre-cloned value (e.g. directory.Entry) that is never touched again after
// Fire is called.
type Event struct {
	Kind  Kind
	Entry interface{}
	Addr  string
}

// Registry is a multi-map from event Kind to an ordered list of callbacks.
// Registration is additive and safe for concurrent use; Fire never holds
// the registry's lock while invoking a callback, so a callback may itself
// call Registry.On or trigger further directory mutations without
// deadlocking.
type Registry struct {
	mu        sync.Mutex
	callbacks map[Kind][]func(Event)
}

// NewRegistry returns an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[Kind][]func(Event))}
}

// On registers fn to be invoked for every future event of the given kind.
func (r *Registry) On(kind Kind, fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[kind] = append(r.callbacks[kind], fn)
}

// Fire delivers e to every callback registered for e.Kind, in registration
// order. The registry's lock is released before any callback runs.
func (r *Registry) Fire(e Event) {
	r.mu.Lock()
	fns := append([]func(Event){}, r.callbacks[e.Kind]...)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
