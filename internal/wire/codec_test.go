// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func roundTrip(t *testing.T, m *Message) {
	t.Helper()

	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode(%+v): %v", m, err)
	}

	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(%x): %v", encoded, err)
	}
	if n != len(encoded) {
		t.Fatalf("Decode consumed %d bytes, want %d", n, len(encoded))
	}

	if diff := cmp.Diff(m, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripEveryMessageType(t *testing.T) {
	cases := []*Message{
		{Tag: TagKeepAlive},
		{Tag: TagClientHello, ClientVersion: ProtocolVersion, ClientName: "c1"},
		{Tag: TagProtocolVersionUnsupported, SupportedVersion: ProtocolVersion},
		{Tag: TagServerHelloComplete},
		{Tag: TagServerHello, ServerFlags: 0, ServerName: "srv"},
		{Tag: TagClientHelloComplete},
		{
			Tag: TagEntryAssignment, EntryName: "/x", Type: TypeDouble,
			ID: 4, Seqnum: 1, Flags: 0, Value: DoubleValue(3.5),
		},
		{
			Tag: TagEntryAssignment, EntryName: "/s", Type: TypeStringArray,
			ID: UnassignedID, Seqnum: 1, Flags: 1,
			Value: StringArrayValue([]string{"a", "b", "c"}),
		},
		{Tag: TagEntryUpdate, ID: 4, Seqnum: 10, Type: TypeDouble, Value: DoubleValue(1.0)},
		{Tag: TagEntryUpdate, ID: 5, Seqnum: 2, Type: TypeBooleanArray, Value: BooleanArrayValue([]bool{true, false, true})},
		{Tag: TagEntryFlagsUpdate, ID: 4, Flags: 1},
		{Tag: TagEntryDelete, ID: 4},
		{Tag: TagClearAllEntries, Magic: ClearMagic},
		{Tag: TagRpcExecute, RPCID: 7, UniqueID: 1, Bytes: []byte{1, 2, 3}},
		{Tag: TagRpcResponse, RPCID: 7, UniqueID: 1, Bytes: []byte{3, 2, 1}},
		{
			Tag: TagEntryAssignment, EntryName: "/rpc", Type: TypeRPCDefinition,
			ID: 9, Seqnum: 1,
			Value: RPCDefinitionValue(&RPCDefinition{
				Version:       RPCVersionLegacy,
				Name:          "legacy",
				RawDescriptor: []byte{0xde, 0xad, 0xbe, 0xef},
			}),
		},
		{
			Tag: TagEntryAssignment, EntryName: "/rpc2", Type: TypeRPCDefinition,
			ID: 10, Seqnum: 1,
			Value: RPCDefinitionValue(&RPCDefinition{
				Version: RPCVersionStructured,
				Name:    "add",
				Parameters: []RPCParam{
					{Type: TypeDouble, Name: "a", Default: DoubleValue(0)},
					{Type: TypeDouble, Name: "b", Default: DoubleValue(0)},
				},
				Results: []RPCResult{{Type: TypeDouble, Name: "sum"}},
			}),
		},
	}

	for _, m := range cases {
		m := m
		t.Run(m.Tag.String(), func(t *testing.T) {
			roundTrip(t, m)
		})
	}
}

func TestDecodeNeedsMoreData(t *testing.T) {
	full, err := Encode(&Message{Tag: TagClientHello, ClientVersion: ProtocolVersion, ClientName: "c1"})
	if err != nil {
		t.Fatal(err)
	}

	for n := 0; n < len(full); n++ {
		if _, _, err := Decode(full[:n]); err != ErrNeedMoreData {
			t.Fatalf("Decode(%d bytes of %d): got err %v, want ErrNeedMoreData", n, len(full), err)
		}
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	if _, _, err := Decode([]byte{0x7f}); err == nil {
		t.Fatal("expected malformed frame error for unknown tag")
	} else if _, ok := err.(*MalformedFrameError); !ok {
		t.Fatalf("got %T, want *MalformedFrameError", err)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	// ClientHello with version + a length-1 string containing an invalid
	// UTF-8 byte.
	buf := []byte{byte(TagClientHello), 0x03, 0x00, 0x01, 0xff}
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected malformed frame error for invalid UTF-8")
	} else if _, ok := err.(*MalformedFrameError); !ok {
		t.Fatalf("got %T, want *MalformedFrameError", err)
	}
}

func TestSeqnumNewerWraparound(t *testing.T) {
	cases := []struct {
		newVal, old Seqnum
		want        bool
	}{
		{1, 0, true},
		{0, 0xFFFF, true}, // wraparound: 0x0000 is newer than 0xFFFF
		{10, 9, true},
		{9, 10, false},
		{5, 5, false},
		{0x8000, 0, false}, // exactly halfway is defined as not-newer
	}

	for _, c := range cases {
		if got := c.newVal.Newer(c.old); got != c.want {
			t.Errorf("Seqnum(%d).Newer(%d) = %v, want %v", c.newVal, c.old, got, c.want)
		}
	}
}

func TestDecodeConsumesOnlyOneMessage(t *testing.T) {
	a, _ := Encode(&Message{Tag: TagKeepAlive})
	b, _ := Encode(&Message{Tag: TagEntryDelete, ID: 3})

	buf := append(append([]byte{}, a...), b...)

	m1, n1, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if m1.Tag != TagKeepAlive {
		t.Fatalf("got tag %v, want KeepAlive", m1.Tag)
	}

	m2, n2, err := Decode(buf[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if m2.Tag != TagEntryDelete || m2.ID != 3 {
		t.Fatalf("got %+v, want EntryDelete{ID:3}", m2)
	}
	if n1+n2 != len(buf) {
		t.Fatalf("consumed %d+%d, want %d", n1, n2, len(buf))
	}
}
