// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package wire

// Value is a tagged union holding the payload for exactly one EntryType.
// Only the field matching a Value's Type is meaningful; it is the caller's
// responsibility to read/write the right one (enforced by the codec, which
// always carries the type alongside the value).
type Value struct {
	Boolean      bool
	Double       float64
	Str          string
	Raw          []byte
	BooleanArray []bool
	DoubleArray  []float64
	StringArray  []string
	RPC          *RPCDefinition
}

// BoolValue, DoubleValue, ... are convenience constructors used by tests and
// by callers of the directory/facade layers that build Entry values.
func BoolValue(b bool) Value                    { return Value{Boolean: b} }
func DoubleValue(d float64) Value               { return Value{Double: d} }
func StringValue(s string) Value                { return Value{Str: s} }
func RawValue(b []byte) Value                   { return Value{Raw: b} }
func BooleanArrayValue(b []bool) Value          { return Value{BooleanArray: b} }
func DoubleArrayValue(d []float64) Value        { return Value{DoubleArray: d} }
func StringArrayValue(s []string) Value         { return Value{StringArray: s} }
func RPCDefinitionValue(d *RPCDefinition) Value { return Value{RPC: d} }

// RPCDefinitionVersion selects the legacy raw-byte RPC schema (0, required
// by the core) or the structured schema (1, optional).
const (
	RPCVersionLegacy     byte = 0
	RPCVersionStructured byte = 1
)

// RPCParam is one ordered, typed, defaulted parameter of a version-1 RPC
// definition.
type RPCParam struct {
	Type    EntryType
	Name    string
	Default Value
}

// RPCResult is one ordered, typed result of a version-1 RPC definition.
type RPCResult struct {
	Type EntryType
	Name string
}

// RPCDefinition is the structured descriptor carried by an entry whose Type
// is TypeRPCDefinition. Version 0 (legacy) uses only Version, Name, and
// RawDescriptor; Parameters and Results are populated only for Version 1.
type RPCDefinition struct {
	Version       byte
	Name          string
	Parameters    []RPCParam
	Results       []RPCResult
	RawDescriptor []byte // opaque payload for the legacy (version 0) form
}
