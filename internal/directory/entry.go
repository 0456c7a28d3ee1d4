// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package directory implements the NTv3 entry directory: the shared,
// numerically-indexed key/value store with flags and per-entry monotonic
// sequence numbers, and the apply_* reconciliation rules a peer uses to fold
// incoming wire messages into its local view.
package directory

import "github.com/sandia-minimega/networktables/internal/wire"

// FlagPersistent is bit 0 of an Entry's Flags: persistent entries survive a
// well-formed ClearAllEntries.
const FlagPersistent uint8 = 1 << 0

// Entry is a named, typed, versioned value in a directory.
type Entry struct {
	ID     wire.EntryID
	Name   string
	Type   wire.EntryType
	Value  wire.Value
	Flags  uint8
	Seqnum wire.Seqnum
}

// Persistent reports whether e's persistent flag bit is set.
func (e Entry) Persistent() bool {
	return e.Flags&FlagPersistent != 0
}

// Clone returns a value copy of e suitable for handing to a callback or a
// snapshot consumer without sharing mutable state with the directory.
func (e Entry) Clone() Entry {
	c := e
	if e.Value.Raw != nil {
		c.Value.Raw = append([]byte(nil), e.Value.Raw...)
	}
	if e.Value.BooleanArray != nil {
		c.Value.BooleanArray = append([]bool(nil), e.Value.BooleanArray...)
	}
	if e.Value.DoubleArray != nil {
		c.Value.DoubleArray = append([]float64(nil), e.Value.DoubleArray...)
	}
	if e.Value.StringArray != nil {
		c.Value.StringArray = append([]string(nil), e.Value.StringArray...)
	}
	return c
}
