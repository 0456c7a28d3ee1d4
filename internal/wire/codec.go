// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// reader is a bounds-checked cursor over a byte slice. Every method returns
// ErrNeedMoreData if the requested field runs past the end of buf; callers
// never observe a partially-advanced cursor on error because Decode only
// commits the consumed count once a full message has been parsed.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u8() (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, ErrNeedMoreData
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if r.off+2 > len(r.buf) {
		return 0, ErrNeedMoreData
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, ErrNeedMoreData
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) f64() (float64, error) {
	if r.off+8 > len(r.buf) {
		return 0, ErrNeedMoreData
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return math.Float64frombits(v), nil
}

// uvarint reads an LEB128-unsigned length prefix.
func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n == 0 {
		return 0, ErrNeedMoreData
	}
	if n < 0 {
		return 0, malformed("varint overflows 64 bits")
	}
	r.off += n
	return v, nil
}

func (r *reader) rawBytes(n uint64) ([]byte, error) {
	if n > uint64(maxFrameField) {
		return nil, malformed("length prefix %d exceeds maximum field size", n)
	}
	if r.off+int(n) > len(r.buf) {
		return nil, ErrNeedMoreData
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *reader) str() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	b, err := r.rawBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", malformed("invalid UTF-8 in string field")
	}
	return string(b), nil
}

func (r *reader) byteArray() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	b, err := r.rawBytes(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// maxFrameField bounds LEB128 length prefixes against pathological input;
// NTv3 is a control-plane protocol, no legitimate message approaches this.
const maxFrameField = 64 << 20

// value decodes a Value payload for the given EntryType (no type tag
// is re-read here -- the caller already consumed it as part of the
// enclosing message's `type` field).
func (r *reader) value(t EntryType) (Value, error) {
	switch t {
	case TypeBoolean:
		b, err := r.u8()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b != 0), nil
	case TypeDouble:
		d, err := r.f64()
		if err != nil {
			return Value{}, err
		}
		return DoubleValue(d), nil
	case TypeString:
		s, err := r.str()
		if err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case TypeRaw:
		b, err := r.byteArray()
		if err != nil {
			return Value{}, err
		}
		return RawValue(b), nil
	case TypeBooleanArray:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		if n > maxFrameField {
			return Value{}, malformed("boolean array length %d exceeds maximum", n)
		}
		arr := make([]bool, 0, n)
		for i := uint64(0); i < n; i++ {
			b, err := r.u8()
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, b != 0)
		}
		return BooleanArrayValue(arr), nil
	case TypeDoubleArray:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		if n > maxFrameField {
			return Value{}, malformed("double array length %d exceeds maximum", n)
		}
		arr := make([]float64, 0, n)
		for i := uint64(0); i < n; i++ {
			d, err := r.f64()
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, d)
		}
		return DoubleArrayValue(arr), nil
	case TypeStringArray:
		n, err := r.uvarint()
		if err != nil {
			return Value{}, err
		}
		if n > maxFrameField {
			return Value{}, malformed("string array length %d exceeds maximum", n)
		}
		arr := make([]string, 0, n)
		for i := uint64(0); i < n; i++ {
			s, err := r.str()
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, s)
		}
		return StringArrayValue(arr), nil
	case TypeRPCDefinition:
		def, err := r.rpcDefinition()
		if err != nil {
			return Value{}, err
		}
		return RPCDefinitionValue(def), nil
	default:
		return Value{}, malformed("unknown entry type tag 0x%02x", byte(t))
	}
}

func (r *reader) rpcDefinition() (*RPCDefinition, error) {
	version, err := r.u8()
	if err != nil {
		return nil, err
	}

	name, err := r.str()
	if err != nil {
		return nil, err
	}

	def := &RPCDefinition{Version: version, Name: name}

	switch version {
	case RPCVersionLegacy:
		raw, err := r.byteArray()
		if err != nil {
			return nil, err
		}
		def.RawDescriptor = raw
	case RPCVersionStructured:
		np, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < np; i++ {
			pt, err := r.u8()
			if err != nil {
				return nil, err
			}
			pname, err := r.str()
			if err != nil {
				return nil, err
			}
			pv, err := r.value(EntryType(pt))
			if err != nil {
				return nil, err
			}
			def.Parameters = append(def.Parameters, RPCParam{Type: EntryType(pt), Name: pname, Default: pv})
		}

		nr, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < nr; i++ {
			rt, err := r.u8()
			if err != nil {
				return nil, err
			}
			rname, err := r.str()
			if err != nil {
				return nil, err
			}
			def.Results = append(def.Results, RPCResult{Type: EntryType(rt), Name: rname})
		}
	default:
		return nil, malformed("unknown rpc definition version %d", version)
	}

	return def, nil
}

// EncodeValue serializes a single value of type t with no surrounding
// message framing; used by the RPC layer to marshal structured (version 1)
// parameters and results against a definition's schema.
func EncodeValue(t EntryType, v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, t, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a single value of type t from the front of buf,
// returning the value and the number of bytes consumed.
func DecodeValue(t EntryType, buf []byte) (Value, int, error) {
	r := &reader{buf: buf}
	v, err := r.value(t)
	if err != nil {
		return Value{}, 0, err
	}
	return v, r.off, nil
}

// Decode reads one message from the front of buf. On success it returns the
// message and the number of bytes consumed. On ErrNeedMoreData, buf holds a
// truncated message and no bytes should be treated as consumed. Any other
// error means buf can never be decoded and the connection must be closed.
func Decode(buf []byte) (*Message, int, error) {
	r := &reader{buf: buf}

	tagByte, err := r.u8()
	if err != nil {
		return nil, 0, err
	}
	tag := Tag(tagByte)

	m := &Message{Tag: tag}

	switch tag {
	case TagKeepAlive, TagServerHelloComplete, TagClientHelloComplete:
		// no payload

	case TagClientHello:
		if m.ClientVersion, err = r.u16(); err != nil {
			return nil, 0, err
		}
		if m.ClientName, err = r.str(); err != nil {
			return nil, 0, err
		}

	case TagProtocolVersionUnsupported:
		if m.SupportedVersion, err = r.u16(); err != nil {
			return nil, 0, err
		}

	case TagServerHello:
		flags, err := r.u8()
		if err != nil {
			return nil, 0, err
		}
		m.ServerFlags = flags
		if m.ServerName, err = r.str(); err != nil {
			return nil, 0, err
		}

	case TagEntryAssignment:
		if m.EntryName, err = r.str(); err != nil {
			return nil, 0, err
		}
		typ, err := r.u8()
		if err != nil {
			return nil, 0, err
		}
		m.Type = EntryType(typ)
		if !m.Type.Valid() {
			return nil, 0, malformed("unknown entry type tag 0x%02x", typ)
		}
		id, err := r.u16()
		if err != nil {
			return nil, 0, err
		}
		m.ID = EntryID(id)
		seq, err := r.u16()
		if err != nil {
			return nil, 0, err
		}
		m.Seqnum = Seqnum(seq)
		if m.Flags, err = r.u8(); err != nil {
			return nil, 0, err
		}
		if m.Value, err = r.value(m.Type); err != nil {
			return nil, 0, err
		}

	case TagEntryUpdate:
		id, err := r.u16()
		if err != nil {
			return nil, 0, err
		}
		m.ID = EntryID(id)
		seq, err := r.u16()
		if err != nil {
			return nil, 0, err
		}
		m.Seqnum = Seqnum(seq)
		typ, err := r.u8()
		if err != nil {
			return nil, 0, err
		}
		m.Type = EntryType(typ)
		if !m.Type.Valid() {
			return nil, 0, malformed("unknown entry type tag 0x%02x", typ)
		}
		if m.Value, err = r.value(m.Type); err != nil {
			return nil, 0, err
		}

	case TagEntryFlagsUpdate:
		id, err := r.u16()
		if err != nil {
			return nil, 0, err
		}
		m.ID = EntryID(id)
		if m.Flags, err = r.u8(); err != nil {
			return nil, 0, err
		}

	case TagEntryDelete:
		id, err := r.u16()
		if err != nil {
			return nil, 0, err
		}
		m.ID = EntryID(id)

	case TagClearAllEntries:
		if m.Magic, err = r.u32(); err != nil {
			return nil, 0, err
		}

	case TagRpcExecute, TagRpcResponse:
		id, err := r.u16()
		if err != nil {
			return nil, 0, err
		}
		m.RPCID = EntryID(id)
		if m.UniqueID, err = r.u16(); err != nil {
			return nil, 0, err
		}
		if m.Bytes, err = r.byteArray(); err != nil {
			return nil, 0, err
		}

	default:
		return nil, 0, malformed("unknown message type tag 0x%02x", tagByte)
	}

	return m, r.off, nil
}

// Encode serializes m per its Tag's layout.
func Encode(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Tag))

	switch m.Tag {
	case TagKeepAlive, TagServerHelloComplete, TagClientHelloComplete:
		// no payload

	case TagClientHello:
		writeU16(&buf, m.ClientVersion)
		writeStr(&buf, m.ClientName)

	case TagProtocolVersionUnsupported:
		writeU16(&buf, m.SupportedVersion)

	case TagServerHello:
		buf.WriteByte(m.ServerFlags)
		writeStr(&buf, m.ServerName)

	case TagEntryAssignment:
		writeStr(&buf, m.EntryName)
		buf.WriteByte(byte(m.Type))
		writeU16(&buf, uint16(m.ID))
		writeU16(&buf, uint16(m.Seqnum))
		buf.WriteByte(m.Flags)
		if err := writeValue(&buf, m.Type, m.Value); err != nil {
			return nil, err
		}

	case TagEntryUpdate:
		writeU16(&buf, uint16(m.ID))
		writeU16(&buf, uint16(m.Seqnum))
		buf.WriteByte(byte(m.Type))
		if err := writeValue(&buf, m.Type, m.Value); err != nil {
			return nil, err
		}

	case TagEntryFlagsUpdate:
		writeU16(&buf, uint16(m.ID))
		buf.WriteByte(m.Flags)

	case TagEntryDelete:
		writeU16(&buf, uint16(m.ID))

	case TagClearAllEntries:
		writeU32(&buf, m.Magic)

	case TagRpcExecute, TagRpcResponse:
		writeU16(&buf, uint16(m.RPCID))
		writeU16(&buf, m.UniqueID)
		writeByteArray(&buf, m.Bytes)

	default:
		return nil, malformed("unknown message type tag 0x%02x", byte(m.Tag))
	}

	return buf.Bytes(), nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeF64(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func writeStr(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeByteArray(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func writeValue(buf *bytes.Buffer, t EntryType, v Value) error {
	switch t {
	case TypeBoolean:
		if v.Boolean {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TypeDouble:
		writeF64(buf, v.Double)
	case TypeString:
		writeStr(buf, v.Str)
	case TypeRaw:
		writeByteArray(buf, v.Raw)
	case TypeBooleanArray:
		writeUvarint(buf, uint64(len(v.BooleanArray)))
		for _, b := range v.BooleanArray {
			if b {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	case TypeDoubleArray:
		writeUvarint(buf, uint64(len(v.DoubleArray)))
		for _, d := range v.DoubleArray {
			writeF64(buf, d)
		}
	case TypeStringArray:
		writeUvarint(buf, uint64(len(v.StringArray)))
		for _, s := range v.StringArray {
			writeStr(buf, s)
		}
	case TypeRPCDefinition:
		return writeRPCDefinition(buf, v.RPC)
	default:
		return malformed("unknown entry type tag 0x%02x", byte(t))
	}
	return nil
}

func writeRPCDefinition(buf *bytes.Buffer, def *RPCDefinition) error {
	if def == nil {
		return malformed("nil rpc definition for TypeRPCDefinition value")
	}

	buf.WriteByte(def.Version)
	writeStr(buf, def.Name)

	switch def.Version {
	case RPCVersionLegacy:
		writeByteArray(buf, def.RawDescriptor)
	case RPCVersionStructured:
		writeUvarint(buf, uint64(len(def.Parameters)))
		for _, p := range def.Parameters {
			buf.WriteByte(byte(p.Type))
			writeStr(buf, p.Name)
			if err := writeValue(buf, p.Type, p.Default); err != nil {
				return err
			}
		}
		writeUvarint(buf, uint64(len(def.Results)))
		for _, res := range def.Results {
			buf.WriteByte(byte(res.Type))
			writeStr(buf, res.Name)
		}
	default:
		return malformed("unknown rpc definition version %d", def.Version)
	}

	return nil
}
