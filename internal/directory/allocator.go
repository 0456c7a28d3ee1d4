// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package directory

import "github.com/sandia-minimega/networktables/internal/wire"

// idAllocator hands out server-assigned entry ids monotonically, starting
// at the counter's initial value (New starts it at 1), skipping the reserved
// sentinel wire.UnassignedID (0xFFFF). Once the counter wraps,
// gaps left by deleted entries become eligible for reuse -- this falls out
// naturally from always probing `occupied` before returning an id: before a
// wrap, every id below the counter has been issued at least once and is
// either still occupied or was skipped-past (never revisited), so it can
// only be handed out again once the counter wraps back around to it.
type idAllocator struct {
	next uint32
}

// advance returns the counter's current value and advances it, wrapping 0xFFFF (the sentinel) to 0.
func (a *idAllocator) advance() wire.EntryID {
	id := wire.EntryID(a.next)
	a.next++
	if a.next > 0xFFFE {
		a.next = 0
	}
	return id
}

// allocate returns the next id for which occupied returns false, never
// returning wire.UnassignedID.
func (a *idAllocator) allocate(occupied func(wire.EntryID) bool) wire.EntryID {
	for {
		id := a.advance()
		if id == wire.UnassignedID {
			continue
		}
		if occupied(id) {
			continue
		}
		return id
	}
}
