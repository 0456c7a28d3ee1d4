// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntclient

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sandia-minimega/networktables/internal/directory"
	"github.com/sandia-minimega/networktables/internal/fanout"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// fakeServer speaks just enough of the server side of the handshake (plus
// whatever steady-state behavior a test configures) over a net.Pipe to
// drive Client without a real internal/ntserver instance.
type fakeServer struct {
	conn net.Conn
	buf  []byte
	tmp  []byte
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, tmp: make([]byte, 4096)}
}

func (f *fakeServer) next(t *testing.T) *wire.Message {
	t.Helper()
	for {
		m, n, err := wire.Decode(f.buf)
		if err == nil {
			f.buf = f.buf[n:]
			return m
		}
		if err != wire.ErrNeedMoreData {
			t.Fatalf("fakeServer decode: %v", err)
		}
		n, err := f.conn.Read(f.tmp)
		if n > 0 {
			f.buf = append(f.buf, f.tmp[:n]...)
		}
		if err != nil {
			t.Fatalf("fakeServer read: %v", err)
		}
	}
}

func (f *fakeServer) send(t *testing.T, m *wire.Message) {
	t.Helper()
	buf, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("fakeServer encode: %v", err)
	}
	if _, err := f.conn.Write(buf); err != nil {
		t.Fatalf("fakeServer write: %v", err)
	}
}

// runBootstrap performs the server side of the handshake, announcing the
// given entries, and returns once ClientHelloComplete has been received.
func (f *fakeServer) runBootstrap(t *testing.T, entries []*wire.Message) {
	t.Helper()

	hello := f.next(t)
	if hello.Tag != wire.TagClientHello {
		t.Fatalf("got %v, want ClientHello", hello.Tag)
	}

	f.send(t, &wire.Message{Tag: wire.TagServerHello, ServerName: "fake"})
	for _, e := range entries {
		f.send(t, e)
	}
	f.send(t, &wire.Message{Tag: wire.TagServerHelloComplete})

	complete := f.next(t)
	if complete.Tag != wire.TagClientHelloComplete {
		t.Fatalf("got %v, want ClientHelloComplete", complete.Tag)
	}
}

func dialPipe(t *testing.T, name string, entries []*wire.Message) (*Client, *fakeServer) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	fs := newFakeServer(serverConn)

	bootstrapDone := make(chan struct{})
	go func() {
		fs.runBootstrap(t, entries)
		close(bootstrapDone)
	}()

	c := New(name)
	if err := c.attach(clientConn); err != nil {
		t.Fatalf("attach: %v", err)
	}

	select {
	case <-bootstrapDone:
	case <-time.After(time.Second):
		t.Fatal("bootstrap never completed")
	}

	return c, fs
}

func TestHandshakeReceivesBootstrapEntries(t *testing.T) {
	entries := []*wire.Message{
		{Tag: wire.TagEntryAssignment, EntryName: "/foo", ID: 1, Type: wire.TypeDouble, Seqnum: 1, Value: wire.DoubleValue(3.5)},
	}
	c, _ := dialPipe(t, "test-client", entries)
	defer c.Close()

	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want Connected", got)
	}

	entry, ok := c.GetEntry("/foo")
	if !ok {
		t.Fatal("bootstrap entry /foo missing from directory")
	}
	if entry.Value.Double != 3.5 {
		t.Fatalf("entry value = %v, want 3.5", entry.Value.Double)
	}
}

func TestHandshakeUnsupportedVersionRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	fs := newFakeServer(serverConn)

	go func() {
		hello := fs.next(t)
		if hello.Tag != wire.TagClientHello {
			return
		}
		fs.send(t, &wire.Message{Tag: wire.TagProtocolVersionUnsupported, SupportedVersion: 0x0200})
	}()

	c := New("test-client")
	err := c.attach(clientConn)
	if err != ErrUnsupportedVersion {
		t.Fatalf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestCreateEntryResolvesOnAssignment(t *testing.T) {
	c, fs := dialPipe(t, "test-client", nil)
	defer c.Close()

	go func() {
		req := fs.next(t)
		if req.Tag != wire.TagEntryAssignment || req.EntryName != "/bar" {
			t.Errorf("unexpected create request: %+v", req)
			return
		}
		fs.send(t, &wire.Message{
			Tag: wire.TagEntryAssignment, EntryName: "/bar", ID: 42,
			Type: wire.TypeBoolean, Seqnum: 1, Value: wire.BoolValue(true),
		})
	}()

	id, err := c.CreateEntry("/bar", wire.TypeBoolean, 0, wire.BoolValue(true))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}
}

func TestCallbacksFireForEntryEvents(t *testing.T) {
	entries := []*wire.Message{
		{Tag: wire.TagEntryAssignment, EntryName: "/x", ID: 1, Type: wire.TypeDouble, Seqnum: 1, Value: wire.DoubleValue(1)},
	}
	c, fs := dialPipe(t, "test-client", entries)
	defer c.Close()

	updates := make(chan directory.Entry, 1)
	c.AddCallback(fanout.Update, func(e fanout.Event) {
		updates <- e.Entry.(directory.Entry)
	})

	fs.send(t, &wire.Message{Tag: wire.TagEntryUpdate, ID: 1, Type: wire.TypeDouble, Seqnum: 2, Value: wire.DoubleValue(9)})

	select {
	case entry := <-updates:
		if entry.Value.Double != 9 {
			t.Fatalf("entry value = %v, want 9", entry.Value.Double)
		}
	case <-time.After(time.Second):
		t.Fatal("Update callback never fired")
	}
}

func TestKeepAliveSentPeriodically(t *testing.T) {
	c, fs := dialPipe(t, "test-client", nil)
	defer c.Close()

	msg := fs.next(t)
	if msg.Tag != wire.TagKeepAlive {
		t.Fatalf("got %v, want KeepAlive", msg.Tag)
	}
}

func TestClosePropagatesToReadLoop(t *testing.T) {
	c, fs := dialPipe(t, "test-client", nil)

	disconnected := make(chan struct{})
	c.AddConnectionCallback(func(e fanout.Event) {
		if e.Kind == fanout.ClientDisconnected {
			close(disconnected)
		}
	})

	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := fs.conn.Read(buf); err != nil {
				return
			}
		}
	}()

	if err := c.Close(); err != nil && err != io.ErrClosedPipe {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("ClientDisconnected callback never fired")
	}
}
