// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package directory

import (
	"sync"

	"github.com/sandia-minimega/networktables/internal/wire"
)

// Directory is the server- or client-local map of all known entries: a
// mapping from id to Entry plus a secondary mapping from name to id. Both
// mappings are kept consistent under a single exclusive lock; lock
// hold-time is bounded to O(entries touched) per operation, per this
// module's concurrency model (see SPEC_FULL.md §5).
type Directory struct {
	mu      sync.Mutex
	byID    map[wire.EntryID]*Entry
	byName  map[string]wire.EntryID
	alloc   idAllocator
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		byID:   make(map[wire.EntryID]*Entry),
		byName: make(map[string]wire.EntryID),
		alloc:  idAllocator{next: 1},
	}
}

// Insert allocates a fresh id and inserts a new entry with seqnum 1. It is
// used only on the server side, where the directory owns id assignment
// (Invariant 4: the allocator never emits 0xFFFF).
func (d *Directory) Insert(name string, typ wire.EntryType, flags uint8, value wire.Value) wire.EntryID {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.alloc.allocate(func(id wire.EntryID) bool {
		_, ok := d.byID[id]
		return ok
	})

	d.byID[id] = &Entry{ID: id, Name: name, Type: typ, Value: value, Flags: flags, Seqnum: 1}
	d.byName[name] = id

	return id
}

// ApplyAssignment folds an incoming EntryAssignment (always carrying a
// concrete, server-assigned id) into the directory: if the name is unknown
// it is inserted as given; if known, it is treated as an update (subject to
// the same type-match and seqnum rules as ApplyUpdate). Returns the final
// entry and whether it was a fresh insertion.
func (d *Directory) ApplyAssignment(id wire.EntryID, name string, typ wire.EntryType, flags uint8, seq wire.Seqnum, value wire.Value) (entry Entry, inserted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existingID, ok := d.byName[name]; ok {
		e := d.byID[existingID]
		if e.Type == typ && seq.Newer(e.Seqnum) {
			e.Value = value
			e.Seqnum = seq
		}
		return e.Clone(), false
	}

	e := &Entry{ID: id, Name: name, Type: typ, Value: value, Flags: flags, Seqnum: seq}
	d.byID[id] = e
	d.byName[name] = id

	return e.Clone(), true
}

// ApplyUpdate applies an EntryUpdate: a no-op unless the entry exists, typ
// matches the stored type, and seq is strictly newer (wraparound-aware)
// than the stored seqnum. Returns whether the update was accepted along
// with the resulting entry snapshot (zero value if the entry does not
// exist).
func (d *Directory) ApplyUpdate(id wire.EntryID, seq wire.Seqnum, typ wire.EntryType, value wire.Value) (entry Entry, accepted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byID[id]
	if !ok {
		return Entry{}, false
	}
	if e.Type != typ || !seq.Newer(e.Seqnum) {
		return e.Clone(), false
	}

	e.Value = value
	e.Seqnum = seq

	return e.Clone(), true
}

// ApplyFlagsUpdate replaces an entry's flags unconditionally, if present.
func (d *Directory) ApplyFlagsUpdate(id wire.EntryID, flags uint8) (entry Entry, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byID[id]
	if !ok {
		return Entry{}, false
	}
	e.Flags = flags
	return e.Clone(), true
}

// ApplyDelete removes an entry if present.
func (d *Directory) ApplyDelete(id wire.EntryID) (entry Entry, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byID[id]
	if !ok {
		return Entry{}, false
	}

	delete(d.byID, id)
	delete(d.byName, e.Name)

	return e.Clone(), true
}

// ApplyClear removes every non-persistent entry if magic matches
// wire.ClearMagic; otherwise the directory is left unchanged. Returns the
// removed entries (for fan-out) and whether the directive was honored.
func (d *Directory) ApplyClear(magic uint32) (removed []Entry, honored bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if magic != wire.ClearMagic {
		return nil, false
	}

	for id, e := range d.byID {
		if e.Persistent() {
			continue
		}
		removed = append(removed, e.Clone())
		delete(d.byID, id)
		delete(d.byName, e.Name)
	}

	return removed, true
}

// Get returns a copy of the entry with id, if present.
func (d *Directory) Get(id wire.EntryID) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byID[id]
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

// GetByName returns a copy of the entry named name, if present.
func (d *Directory) GetByName(name string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byName[name]
	if !ok {
		return Entry{}, false
	}
	return d.byID[id].Clone(), true
}

// Snapshot returns a copy of every entry currently in the directory, used
// for sending full state to a newly handshook peer. Order is unspecified.
func (d *Directory) Snapshot() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Entry, 0, len(d.byID))
	for _, e := range d.byID {
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of entries currently stored.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}
