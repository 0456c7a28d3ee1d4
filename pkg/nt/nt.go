// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package nt is the public facade over the NTv3 engine: a single
// construction path for each role (Connect for a client, Bind for a
// server) returning a Handle that exposes directory access, mutation,
// callback registration, and RPC -- the language-neutral surface described
// in spec.md §6, adapted to Go idiom (explicit error returns, a
// context.Context-bounded TCP connect, Close releasing every owned
// resource).
package nt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sandia-minimega/networktables/internal/directory"
	"github.com/sandia-minimega/networktables/internal/fanout"
	"github.com/sandia-minimega/networktables/internal/ntclient"
	"github.com/sandia-minimega/networktables/internal/ntserver"
	"github.com/sandia-minimega/networktables/internal/rpc"
	"github.com/sandia-minimega/networktables/internal/transport"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// connectTimeout bounds Connect's dial per spec.md §5's "bounded wait
// (~500ms recommended) before returning a failure".
const connectTimeout = 500 * time.Millisecond

// wsPath is the fixed HTTP route a Bind(ctx, "ws", ...) server mounts its
// upgrade endpoint on.
const wsPath = "/nt"

var (
	// ErrUnsupportedVersion is returned by Connect when the server rejected
	// the client's protocol version.
	ErrUnsupportedVersion = errors.New("nt: server does not support this protocol version")
	// ErrConnectionAborted is returned by Connect when the transport could
	// not be established at all.
	ErrConnectionAborted = errors.New("nt: connection could not be established")
	// ErrBrokenPipe names a mid-session transport failure. No Handle method
	// returns it: a send over a failed or closed connection returns the
	// underlying write error from internal/ntclient instead.
	ErrBrokenPipe = errors.New("nt: broken pipe")
	// ErrNotClient / ErrNotServer guard the methods that only make sense on
	// one side of the role split (Reconnect, CallRPC vs RegisterRPC).
	ErrNotClient = errors.New("nt: handle is not a client")
	ErrNotServer = errors.New("nt: handle is not a server")
)

// EntryData is the language-neutral entry descriptor used to create
// entries through the facade, mirroring spec.md §6's EntryData.
type EntryData struct {
	Name  string
	Type  wire.EntryType
	Flags uint8
	Value wire.Value
}

// Handle is the facade object returned by Connect and Bind. Exactly one of
// its two roles is active for the lifetime of a Handle; Reconnect and
// RegisterRPC are role-specific and documented as such.
type Handle struct {
	network string
	addr    string
	name    string

	client  *ntclient.Client
	server  *ntserver.Server
	httpSrv *http.Server
}

// Connect dials a running NTv3 server over network ("tcp" or "ws") at addr
// (a "host:port" for tcp, a full "ws://host:port/path" URL for ws),
// performs the handshake identifying this peer as name, and returns once
// steady state is reached.
func Connect(ctx context.Context, network, addr, name string) (*Handle, error) {
	conn, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	c, err := ntclient.Connect(conn, name)
	if err != nil {
		if errors.Is(err, ntclient.ErrUnsupportedVersion) {
			return nil, ErrUnsupportedVersion
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionAborted, err)
	}

	return &Handle{network: network, addr: addr, name: name, client: c}, nil
}

func dial(ctx context.Context, network, addr string) (net.Conn, error) {
	switch network {
	case "tcp":
		d := net.Dialer{Timeout: connectTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionAborted, err)
		}
		return conn, nil
	case "ws":
		conn, err := transport.DialWS(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionAborted, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("nt: unknown network %q (want \"tcp\" or \"ws\")", network)
	}
}

// Bind starts a NTv3 server over network ("tcp" or "ws") on addr,
// identified to clients as name, and returns once it is accepting
// connections. ctx is not consulted: the listener is bound synchronously.
func Bind(ctx context.Context, network, addr, name string) (*Handle, error) {
	s := ntserver.New(name)

	switch network {
	case "tcp":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("nt: bind tcp %s: %w", addr, err)
		}
		go s.Serve(ln)
		return &Handle{network: network, addr: addr, name: name, server: s}, nil

	case "ws":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("nt: bind ws %s: %w", addr, err)
		}
		router := mux.NewRouter()
		transport.ServeWS(router, wsPath, s.HandleConn)
		httpSrv := &http.Server{Handler: router}
		go httpSrv.Serve(ln)
		return &Handle{network: network, addr: addr, name: name, server: s, httpSrv: httpSrv}, nil

	default:
		return nil, fmt.Errorf("nt: unknown network %q (want \"tcp\" or \"ws\")", network)
	}
}

// IsClient reports whether h was returned by Connect.
func (h *Handle) IsClient() bool { return h.client != nil }

// IsServer reports whether h was returned by Bind.
func (h *Handle) IsServer() bool { return h.server != nil }

// Entries returns a snapshot of every entry currently known to h.
func (h *Handle) Entries() []directory.Entry {
	if h.client != nil {
		return h.client.Entries()
	}
	return h.server.Entries()
}

// GetEntry returns the entry named name, if known.
func (h *Handle) GetEntry(name string) (directory.Entry, bool) {
	if h.client != nil {
		return h.client.GetEntry(name)
	}
	return h.server.GetEntry(name)
}

// CreateEntry creates a new entry from data and returns its assigned id.
// On a client this sends an EntryAssignment with the create-by-name
// sentinel id and blocks until the server's echoed assignment arrives,
// per the create-entry-by-name future contract (spec.md §4.3). On a server
// it inserts directly and broadcasts the assignment to every client.
func (h *Handle) CreateEntry(data EntryData) (wire.EntryID, error) {
	if h.client != nil {
		return h.client.CreateEntry(data.Name, data.Type, data.Flags, data.Value)
	}
	return h.server.CreateEntry(data.Name, data.Type, data.Flags, data.Value), nil
}

// UpdateEntry sends a value update for id.
func (h *Handle) UpdateEntry(id wire.EntryID, value wire.Value) error {
	if h.client != nil {
		return h.client.UpdateEntry(id, value)
	}
	return h.server.UpdateEntry(id, value)
}

// UpdateEntryFlags sends a flags-only update for id.
func (h *Handle) UpdateEntryFlags(id wire.EntryID, flags uint8) error {
	if h.client != nil {
		return h.client.UpdateEntryFlags(id, flags)
	}
	return h.server.UpdateEntryFlags(id, flags)
}

// DeleteEntry deletes id.
func (h *Handle) DeleteEntry(id wire.EntryID) error {
	if h.client != nil {
		return h.client.DeleteEntry(id)
	}
	h.server.DeleteEntry(id)
	return nil
}

// ClearEntries clears every non-persistent entry.
func (h *Handle) ClearEntries() error {
	if h.client != nil {
		return h.client.ClearEntries()
	}
	h.server.ClearEntries()
	return nil
}

// AddCallback registers fn for every future directory event of kind.
func (h *Handle) AddCallback(kind fanout.Kind, fn func(fanout.Event)) {
	if h.client != nil {
		h.client.AddCallback(kind, fn)
		return
	}
	h.server.AddCallback(kind, fn)
}

// AddConnectionCallback registers fn for ClientConnected/ClientDisconnected
// events.
func (h *Handle) AddConnectionCallback(fn func(fanout.Event)) {
	if h.client != nil {
		h.client.AddConnectionCallback(fn)
		return
	}
	h.server.AddConnectionCallback(fn)
}

// CallRPC invokes the RPC at id with param, calling cb exactly once with
// the result. Client-only.
func (h *Handle) CallRPC(id wire.EntryID, param []byte, cb rpc.ResultCallback) error {
	if h.client == nil {
		return ErrNotClient
	}
	return h.client.CallRPC(id, param, cb)
}

// RegisterRPC creates an RpcDefinition entry named name and binds handler as
// its implementation. Server-only; see ntserver.Server.RegisterRPC.
func (h *Handle) RegisterRPC(name string, def *wire.RPCDefinition, flags uint8, handler rpc.Handler) (wire.EntryID, error) {
	if h.server == nil {
		return 0, ErrNotServer
	}
	return h.server.RegisterRPC(name, def, flags, handler)
}

// Reconnect re-runs the handshake over a fresh socket to the same address,
// discarding the local directory and replacing it with a fresh one built
// from the server's bootstrap stream, while keeping this Handle's callback
// registrations intact. Client-only.
func (h *Handle) Reconnect() error {
	if h.client == nil {
		return ErrNotClient
	}
	conn, err := dial(context.Background(), h.network, h.addr)
	if err != nil {
		return err
	}
	return h.client.ReconnectConn(conn)
}

// Wait blocks until the underlying connection's reader and keep-alive tasks
// both exit, returning the error (if any) that ended them. Client-only.
func (h *Handle) Wait() error {
	if h.client == nil {
		return ErrNotClient
	}
	return h.client.Wait()
}

// ClientCount returns the number of currently-connected clients. Server-only
// (returns 0 on a client Handle).
func (h *Handle) ClientCount() int {
	if h.server == nil {
		return 0
	}
	return h.server.ClientCount()
}

// Close releases every resource this Handle owns: for a client, it closes
// the connection (the server observes this as a transport close, per
// spec.md §4.8 -- there is no explicit quit message); for a server, it
// stops accepting new connections and cancels every connected client's
// lifetime context.
func (h *Handle) Close() error {
	if h.client != nil {
		return h.client.Close()
	}
	if h.httpSrv != nil {
		h.httpSrv.Close()
	}
	return h.server.Shutdown()
}
