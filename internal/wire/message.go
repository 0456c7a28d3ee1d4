// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package wire implements the NetworkTables v3 binary framing: the thirteen
// message types, their big-endian/LEB128 field layouts, and the bijective
// encode/decode pair that the client and server state machines drive.
package wire

// Tag identifies one of the thirteen NTv3 message types.
type Tag byte

const (
	TagKeepAlive                   Tag = 0x00
	TagClientHello                 Tag = 0x01
	TagProtocolVersionUnsupported  Tag = 0x02
	TagServerHelloComplete         Tag = 0x03
	TagServerHello                 Tag = 0x04
	TagClientHelloComplete         Tag = 0x05
	TagEntryAssignment             Tag = 0x10
	TagEntryUpdate                 Tag = 0x11
	TagEntryFlagsUpdate            Tag = 0x12
	TagEntryDelete                 Tag = 0x13
	TagClearAllEntries             Tag = 0x14
	TagRpcExecute                  Tag = 0x20
	TagRpcResponse                 Tag = 0x21
)

func (t Tag) String() string {
	switch t {
	case TagKeepAlive:
		return "KeepAlive"
	case TagClientHello:
		return "ClientHello"
	case TagProtocolVersionUnsupported:
		return "ProtocolVersionUnsupported"
	case TagServerHelloComplete:
		return "ServerHelloComplete"
	case TagServerHello:
		return "ServerHello"
	case TagClientHelloComplete:
		return "ClientHelloComplete"
	case TagEntryAssignment:
		return "EntryAssignment"
	case TagEntryUpdate:
		return "EntryUpdate"
	case TagEntryFlagsUpdate:
		return "EntryFlagsUpdate"
	case TagEntryDelete:
		return "EntryDelete"
	case TagClearAllEntries:
		return "ClearAllEntries"
	case TagRpcExecute:
		return "RpcExecute"
	case TagRpcResponse:
		return "RpcResponse"
	default:
		return "Unknown"
	}
}

// ProtocolVersion is the NTv3 wire version constant, sent in ClientHello and
// echoed (if unsupported) in ProtocolVersionUnsupported.
const ProtocolVersion uint16 = 0x0300

// ClearMagic must accompany ClearAllEntries for the directive to be honored.
const ClearMagic uint32 = 0xD06CB27A

// UnassignedID is the sentinel entry id meaning "not yet assigned -- request
// server assignment". It never appears as a key in a directory.
const UnassignedID EntryID = 0xFFFF

// WebSocketSubprotocol is the token that must appear (case-insensitive
// substring match) in a client's offered subprotocol list for the WS server
// adaptor to accept the connection.
const WebSocketSubprotocol = "networktables"

// EntryType tags the value carried by an entry, and doubles as the
// "value type" byte that precedes a value's payload on the wire.
type EntryType byte

const (
	TypeBoolean       EntryType = 0x00
	TypeDouble        EntryType = 0x01
	TypeString        EntryType = 0x02
	TypeRaw           EntryType = 0x03
	TypeBooleanArray  EntryType = 0x10
	TypeDoubleArray   EntryType = 0x11
	TypeStringArray   EntryType = 0x12
	TypeRPCDefinition EntryType = 0x20
)

func (t EntryType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeRaw:
		return "raw"
	case TypeBooleanArray:
		return "boolean[]"
	case TypeDoubleArray:
		return "double[]"
	case TypeStringArray:
		return "string[]"
	case TypeRPCDefinition:
		return "rpc_definition"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the eight defined entry types.
func (t EntryType) Valid() bool {
	switch t {
	case TypeBoolean, TypeDouble, TypeString, TypeRaw,
		TypeBooleanArray, TypeDoubleArray, TypeStringArray, TypeRPCDefinition:
		return true
	default:
		return false
	}
}

// Message is the decoded form of any of the thirteen NTv3 wire messages. Only
// the fields relevant to Tag are populated; callers switch on Tag.
type Message struct {
	Tag Tag

	// ClientHello
	ClientVersion uint16
	ClientName    string

	// ProtocolVersionUnsupported
	SupportedVersion uint16

	// ServerHello
	ServerFlags uint8
	ServerName  string

	// EntryAssignment
	EntryName string

	// EntryAssignment, EntryUpdate, EntryFlagsUpdate, EntryDelete (shared)
	ID EntryID

	// EntryAssignment, EntryUpdate (shared)
	Type    EntryType
	Seqnum  Seqnum
	Value   Value

	// EntryAssignment, EntryFlagsUpdate (shared)
	Flags uint8

	// ClearAllEntries
	Magic uint32

	// RpcExecute, RpcResponse (shared)
	RPCID    EntryID
	UniqueID uint16
	Bytes    []byte // parameter (RpcExecute) or result (RpcResponse)
}

// EntryID is the server-assigned 16-bit identifier for a directory entry.
type EntryID uint16

// Seqnum is a per-entry monotonic counter that wraps on 16-bit overflow.
type Seqnum uint16

// Newer reports whether s is strictly newer than old under 16-bit
// wraparound-aware circular comparison: s is newer than old iff
// (s - old) mod 65536 lies in (0, 32768).
func (s Seqnum) Newer(old Seqnum) bool {
	delta := uint16(s) - uint16(old)
	return delta != 0 && delta < 32768
}
