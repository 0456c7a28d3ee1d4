// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package rpc implements the NTv3 RPC subsystem: definition storage,
// invocation/response correlation keyed on (rpc_entry_id, unique_id), and
// panic-safe execution of server-registered procedures.
package rpc

import (
	"fmt"

	"github.com/sandia-minimega/networktables/internal/wire"
)

// ErrMalformedDefinition is returned by ValidateDefinition (and so by
// ntserver.Server.RegisterRPC) when a version-1
// RPC definition's parameter or result schema cannot be validated at
// registration time.
type ErrMalformedDefinition struct {
	Reason string
}

func (e *ErrMalformedDefinition) Error() string {
	return fmt.Sprintf("rpc: malformed definition: %s", e.Reason)
}

// ErrMalformedRpc is returned when a version-1 call's parameter or result
// bytes fail to decode against the definition's schema.
type ErrMalformedRpc struct {
	Reason string
}

func (e *ErrMalformedRpc) Error() string {
	return fmt.Sprintf("rpc: malformed payload: %s", e.Reason)
}

// ValidateDefinition checks a definition's internal consistency: the
// original implementation validates a version-1 schema once, at
// registration time, rather than re-validating it on every call.
func ValidateDefinition(def *wire.RPCDefinition) error {
	if def == nil {
		return &ErrMalformedDefinition{Reason: "nil definition"}
	}

	switch def.Version {
	case wire.RPCVersionLegacy:
		return nil
	case wire.RPCVersionStructured:
		for _, p := range def.Parameters {
			if !p.Type.Valid() {
				return &ErrMalformedDefinition{Reason: fmt.Sprintf("parameter %q has invalid type 0x%02x", p.Name, byte(p.Type))}
			}
		}
		for _, r := range def.Results {
			if !r.Type.Valid() {
				return &ErrMalformedDefinition{Reason: fmt.Sprintf("result %q has invalid type 0x%02x", r.Name, byte(r.Type))}
			}
		}
		return nil
	default:
		return &ErrMalformedDefinition{Reason: fmt.Sprintf("unknown version %d", def.Version)}
	}
}

// EncodeParams marshals args against def's ordered parameter schema (version
// 1 only) into the flat byte form carried by RpcExecute.Bytes.
func EncodeParams(def *wire.RPCDefinition, args []wire.Value) ([]byte, error) {
	if len(args) != len(def.Parameters) {
		return nil, &ErrMalformedRpc{Reason: fmt.Sprintf("got %d arguments, want %d", len(args), len(def.Parameters))}
	}

	var out []byte
	for i, p := range def.Parameters {
		b, err := wire.EncodeValue(p.Type, args[i])
		if err != nil {
			return nil, &ErrMalformedRpc{Reason: err.Error()}
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeParams unmarshals raw against def's ordered parameter schema.
func DecodeParams(def *wire.RPCDefinition, raw []byte) ([]wire.Value, error) {
	return decodeValues(raw, paramTypes(def.Parameters))
}

// EncodeResults marshals results against def's ordered result schema into
// the flat byte form carried by RpcResponse.Bytes.
func EncodeResults(def *wire.RPCDefinition, results []wire.Value) ([]byte, error) {
	if len(results) != len(def.Results) {
		return nil, &ErrMalformedRpc{Reason: fmt.Sprintf("got %d results, want %d", len(results), len(def.Results))}
	}

	var out []byte
	for i, r := range def.Results {
		b, err := wire.EncodeValue(r.Type, results[i])
		if err != nil {
			return nil, &ErrMalformedRpc{Reason: err.Error()}
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeResults unmarshals raw against def's ordered result schema.
func DecodeResults(def *wire.RPCDefinition, raw []byte) ([]wire.Value, error) {
	return decodeValues(raw, resultTypes(def.Results))
}

func paramTypes(params []wire.RPCParam) []wire.EntryType {
	types := make([]wire.EntryType, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	return types
}

func resultTypes(results []wire.RPCResult) []wire.EntryType {
	types := make([]wire.EntryType, len(results))
	for i, r := range results {
		types[i] = r.Type
	}
	return types
}

func decodeValues(raw []byte, types []wire.EntryType) ([]wire.Value, error) {
	values := make([]wire.Value, 0, len(types))
	off := 0
	for _, t := range types {
		v, n, err := wire.DecodeValue(t, raw[off:])
		if err != nil {
			return nil, &ErrMalformedRpc{Reason: err.Error()}
		}
		values = append(values, v)
		off += n
	}
	if off != len(raw) {
		return nil, &ErrMalformedRpc{Reason: "trailing bytes after decoding all fields"}
	}
	return values, nil
}
