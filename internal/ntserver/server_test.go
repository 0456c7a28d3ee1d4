// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntserver

import (
	"net"
	"testing"
	"time"

	"github.com/sandia-minimega/networktables/internal/directory"
	"github.com/sandia-minimega/networktables/internal/fanout"
	"github.com/sandia-minimega/networktables/internal/ntclient"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// startServer binds an ephemeral local TCP port, serves it in the
// background, and returns the server and its address. These are full
// client/server integration tests -- internal/ntclient is real, not faked.
func startServer(t *testing.T) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := New("test-server")
	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })

	return s, ln.Addr().String()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBootstrapDeliversExistingEntries(t *testing.T) {
	s, addr := startServer(t)
	s.CreateEntry("/pre-existing", wire.TypeString, 0, wire.StringValue("hello"))

	c, err := ntclient.Dial("tcp", addr, "test-client")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	entry, ok := c.GetEntry("/pre-existing")
	if !ok {
		t.Fatal("bootstrap entry missing from client directory")
	}
	if entry.Value.Str != "hello" {
		t.Fatalf("value = %q, want %q", entry.Value.Str, "hello")
	}
}

func TestCreateEntryByNameRoundTrips(t *testing.T) {
	_, addr := startServer(t)

	c, err := ntclient.Dial("tcp", addr, "test-client")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	id, err := c.CreateEntry("/new", wire.TypeDouble, 0, wire.DoubleValue(42))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if id == 0 {
		t.Fatalf("got id 0")
	}

	entry, ok := c.GetEntry("/new")
	if !ok || entry.Value.Double != 42 {
		t.Fatalf("entry = %+v, ok = %v", entry, ok)
	}
}

func TestUpdatesBroadcastToOtherClients(t *testing.T) {
	s, addr := startServer(t)
	id := s.CreateEntry("/shared", wire.TypeDouble, 0, wire.DoubleValue(1))

	watcher, err := ntclient.Dial("tcp", addr, "watcher")
	if err != nil {
		t.Fatalf("Dial watcher: %v", err)
	}
	defer watcher.Close()

	updates := make(chan directory.Entry, 8)
	watcher.AddCallback(fanout.Update, func(e fanout.Event) {
		updates <- e.Entry.(directory.Entry)
	})

	if err := s.UpdateEntry(id, wire.DoubleValue(99)); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}

	select {
	case entry := <-updates:
		if entry.Value.Double != 99 {
			t.Fatalf("entry value = %v, want 99", entry.Value.Double)
		}
	case <-time.After(time.Second):
		t.Fatal("Update callback never fired on watcher")
	}

	waitFor(t, time.Second, func() bool {
		entry, ok := watcher.GetEntry("/shared")
		return ok && entry.Value.Double == 99
	})
}

func TestClientDisconnectFiresServerCallback(t *testing.T) {
	s, addr := startServer(t)

	disconnected := make(chan struct{}, 1)
	s.AddConnectionCallback(func(e fanout.Event) {
		if e.Kind == fanout.ClientDisconnected {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
	})

	c, err := ntclient.Dial("tcp", addr, "test-client")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	waitFor(t, time.Second, func() bool { return s.ClientCount() == 1 })

	c.Close()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("server never observed the disconnect")
	}
}

func TestRPCRoundTripThroughServer(t *testing.T) {
	s, addr := startServer(t)
	s.CreateRPC(5, func(param []byte) []byte {
		out := make([]byte, len(param))
		for i, b := range param {
			out[len(param)-1-i] = b
		}
		return out
	})

	c, err := ntclient.Dial("tcp", addr, "test-client")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result := make(chan []byte, 1)
	if err := c.CallRPC(5, []byte{1, 2, 3}, func(r []byte) { result <- r }); err != nil {
		t.Fatalf("CallRPC: %v", err)
	}

	select {
	case r := <-result:
		want := []byte{3, 2, 1}
		if len(r) != len(want) || r[0] != want[0] || r[1] != want[1] || r[2] != want[2] {
			t.Fatalf("got %v, want %v", r, want)
		}
	case <-time.After(time.Second):
		t.Fatal("RPC never responded")
	}
}
