// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package ntclient implements the client side of the NTv3 connection state
// machine: handshake, steady-state message dispatch, keep-alive, the
// create-entry-by-name future contract, and reconnection.
package ntclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sandia-minimega/networktables/internal/directory"
	"github.com/sandia-minimega/networktables/internal/fanout"
	"github.com/sandia-minimega/networktables/internal/ntlog"
	"github.com/sandia-minimega/networktables/internal/rpc"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// ErrUnsupportedVersion is returned when the server rejects the client's
// protocol version with a ProtocolVersionUnsupported message.
var ErrUnsupportedVersion = errors.New("ntclient: server does not support protocol version")

// ErrClosed is returned by operations attempted after the client has been
// closed or has lost its connection.
var ErrClosed = errors.New("ntclient: connection closed")

const readBufferInitialCap = 4096

// Client is one NTv3 client connection. It owns a local Directory mirroring
// the server's, a fanout.Registry for entry and connection callbacks, and an
// rpc.Client tracking in-flight calls. A Client is safe for concurrent use.
type Client struct {
	name string

	mu    sync.Mutex
	state State
	conn  net.Conn

	dir    *directory.Directory
	fan    *fanout.Registry
	calls  *rpc.Client
	served *rpc.Server // handlers for RPCs this client itself hosts, if any

	pendingMu sync.Mutex
	pending   map[string][]chan wire.EntryID // name -> waiters for assignment

	handshakeSpillover []byte // bytes read past the handshake's last message

	group *errgroup.Group // the read/keep-alive loop pair for the current connection

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a Client identified to peers as name. It is not yet connected;
// call Connect or Dial to perform the handshake.
func New(name string) *Client {
	return &Client{
		name:    name,
		state:   StateIdle,
		dir:     directory.New(),
		fan:     fanout.NewRegistry(),
		calls:   rpc.NewClient(),
		served:  rpc.NewServer(),
		pending: make(map[string][]chan wire.EntryID),
		closed:  make(chan struct{}),
	}
}

// Dial connects to addr over network (e.g. "tcp") and performs the NTv3
// handshake before returning.
func Dial(network, addr, name string) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("ntclient: dial %s %s: %w", network, addr, err)
	}
	return Connect(conn, name)
}

// Connect performs the NTv3 handshake over an already-established
// connection -- e.g. one returned by internal/transport.DialWS for the
// WebSocket carrier -- and returns once it completes.
func Connect(conn net.Conn, name string) (*Client, error) {
	c := New(name)
	if err := c.attach(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// attach performs the handshake over conn and, on success, starts the
// read and keep-alive loops.
func (c *Client) attach(conn net.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.handshake(conn); err != nil {
		c.setState(StateClosed)
		return err
	}

	c.setState(StateConnected)
	c.fan.Fire(fanout.Event{Kind: fanout.ClientConnected, Addr: conn.RemoteAddr().String()})

	c.mu.Lock()
	spillover := c.handshakeSpillover
	c.handshakeSpillover = nil
	c.mu.Unlock()

	// The read loop and the keep-alive loop run as one errgroup per
	// connection: closing the connection (Close, Reconnect, or a transport
	// error observed by either loop) is the broadcast-style shutdown signal
	// both goroutines observe, matching the server's per-connection group.
	g, gctx := errgroup.WithContext(context.Background())
	c.mu.Lock()
	c.group = g
	c.mu.Unlock()
	g.Go(func() error {
		c.readLoop(conn, spillover)
		select {
		case <-c.closed:
			return nil
		default:
			return ErrClosed
		}
	})
	g.Go(func() error { c.keepAliveLoop(gctx, conn); return nil })

	return nil
}

// Wait blocks until the current connection's read and keep-alive loops have
// both exited -- useful for a caller that wants to observe full teardown
// after a transport failure or a call to Close. It returns nil after Close
// and ErrClosed when the connection ended for any other reason.
func (c *Client) Wait() error {
	c.mu.Lock()
	g := c.group
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Reconnect closes the current connection, if any, and re-dials network/addr,
// replaying the handshake against a freshly reset local directory -- the
// server is the sole source of truth for entry state after a reconnect.
func (c *Client) Reconnect(network, addr string) error {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return fmt.Errorf("ntclient: reconnect dial %s %s: %w", network, addr, err)
	}
	return c.ReconnectConn(conn)
}

// ReconnectConn closes the current connection, if any, and replays the
// handshake over an already-established conn (e.g. one internal/transport
// dialed for the WebSocket carrier) against a freshly reset local
// directory. Reconnect is the raw-TCP convenience wrapper around this.
func (c *Client) ReconnectConn(conn net.Conn) error {
	c.mu.Lock()
	old := c.conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.mu.Lock()
	c.dir = directory.New()
	c.mu.Unlock()

	return c.attach(conn)
}

// Close terminates the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.state = StateClosed
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the client's current position in the connection lifecycle.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) send(m *wire.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	buf, err := wire.Encode(m)
	if err != nil {
		return fmt.Errorf("ntclient: encode %v: %w", m.Tag, err)
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("ntclient: write %v: %w", m.Tag, err)
	}
	return nil
}

func (c *Client) readLoop(conn net.Conn, spillover []byte) {
	defer c.teardown(conn)

	buf := make([]byte, 0, readBufferInitialCap)
	buf = append(buf, spillover...)
	tmp := make([]byte, readBufferInitialCap)

	drain := func() bool {
		for {
			msg, consumed, derr := wire.Decode(buf)
			if derr == wire.ErrNeedMoreData {
				return true
			}
			if derr != nil {
				ntlog.Error("ntclient: malformed frame: %v", derr)
				return false
			}
			buf = buf[consumed:]
			c.dispatch(msg)
		}
	}

	if !drain() {
		return
	}

	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				ntlog.Error("ntclient: read: %v", err)
			}
			return
		}

		if !drain() {
			return
		}
	}
}

func (c *Client) teardown(conn net.Conn) {
	conn.Close()
	c.setState(StateClosed)
	c.fan.Fire(fanout.Event{Kind: fanout.ClientDisconnected, Addr: conn.RemoteAddr().String()})
}

// dispatch folds one steady-state message into the local directory and
// fires the corresponding callbacks. Handshake messages are handled
// synchronously inside handshake and never reach dispatch.
func (c *Client) dispatch(m *wire.Message) {
	switch m.Tag {
	case wire.TagKeepAlive:
		// no-op: receipt alone satisfies liveness.

	case wire.TagEntryAssignment:
		entry, inserted := c.dir.ApplyAssignment(m.ID, m.EntryName, m.Type, m.Flags, m.Seqnum, m.Value)
		c.resolvePending(m.EntryName, entry.ID)
		if inserted {
			c.fan.Fire(fanout.Event{Kind: fanout.Add, Entry: entry})
		} else {
			c.fan.Fire(fanout.Event{Kind: fanout.Update, Entry: entry})
		}

	case wire.TagEntryUpdate:
		entry, accepted := c.dir.ApplyUpdate(m.ID, m.Seqnum, m.Type, m.Value)
		if accepted {
			c.fan.Fire(fanout.Event{Kind: fanout.Update, Entry: entry})
		}

	case wire.TagEntryFlagsUpdate:
		c.dir.ApplyFlagsUpdate(m.ID, m.Flags)

	case wire.TagEntryDelete:
		entry, ok := c.dir.ApplyDelete(m.ID)
		if ok {
			c.fan.Fire(fanout.Event{Kind: fanout.Delete, Entry: entry})
		}

	case wire.TagClearAllEntries:
		removed, honored := c.dir.ApplyClear(m.Magic)
		if honored {
			for _, entry := range removed {
				c.fan.Fire(fanout.Event{Kind: fanout.Delete, Entry: entry})
			}
		}

	case wire.TagRpcExecute:
		c.served.InvokeAsync(m.RPCID, m.Bytes, func(result []byte) {
			c.send(&wire.Message{Tag: wire.TagRpcResponse, RPCID: m.RPCID, UniqueID: m.UniqueID, Bytes: result})
		})

	case wire.TagRpcResponse:
		c.calls.Resolve(m.RPCID, m.UniqueID, m.Bytes)

	default:
		ntlog.Warn("ntclient: unexpected message %v in steady state", m.Tag)
	}
}

func (c *Client) resolvePending(name string, id wire.EntryID) {
	c.pendingMu.Lock()
	waiters := c.pending[name]
	delete(c.pending, name)
	c.pendingMu.Unlock()

	for _, ch := range waiters {
		ch <- id
		close(ch)
	}
}

// Entries returns a snapshot of every entry currently known to the client.
func (c *Client) Entries() []directory.Entry {
	return c.dir.Snapshot()
}

// GetEntry returns the entry named name, if known.
func (c *Client) GetEntry(name string) (directory.Entry, bool) {
	return c.dir.GetByName(name)
}

// CreateEntry requests that the server assign a fresh id to a new entry
// named name and returns once the server's EntryAssignment has been
// received and folded into the local directory -- the create-entry-by-name
// future contract.
func (c *Client) CreateEntry(name string, typ wire.EntryType, flags uint8, value wire.Value) (wire.EntryID, error) {
	if _, ok := c.dir.GetByName(name); ok {
		return 0, fmt.Errorf("ntclient: entry %q already exists", name)
	}

	ch := make(chan wire.EntryID, 1)
	c.pendingMu.Lock()
	c.pending[name] = append(c.pending[name], ch)
	c.pendingMu.Unlock()

	err := c.send(&wire.Message{
		Tag:       wire.TagEntryAssignment,
		EntryName: name,
		ID:        wire.EntryID(wire.UnassignedID),
		Type:      typ,
		Flags:     flags,
		Seqnum:    1,
		Value:     value,
	})
	if err != nil {
		return 0, err
	}

	select {
	case id := <-ch:
		return id, nil
	case <-c.closed:
		return 0, ErrClosed
	}
}

// UpdateEntry applies value to id in the local directory, advancing its
// seqnum, then sends the corresponding EntryUpdate -- mirroring
// Server.UpdateEntry so the local view reflects the write immediately and a
// second consecutive UpdateEntry computes its seqnum from the value just
// written rather than the now-stale one the server last echoed back.
func (c *Client) UpdateEntry(id wire.EntryID, value wire.Value) error {
	entry, ok := c.dir.Get(id)
	if !ok {
		return fmt.Errorf("ntclient: unknown entry id %d", id)
	}
	m := &wire.Message{Tag: wire.TagEntryUpdate, ID: id, Type: entry.Type, Seqnum: entry.Seqnum + 1, Value: value}
	updated, accepted := c.dir.ApplyUpdate(id, m.Seqnum, m.Type, value)
	if !accepted {
		return fmt.Errorf("ntclient: unknown entry id %d", id)
	}
	c.fan.Fire(fanout.Event{Kind: fanout.Update, Entry: updated})
	return c.send(m)
}

// UpdateEntryFlags sends an EntryFlagsUpdate for id.
func (c *Client) UpdateEntryFlags(id wire.EntryID, flags uint8) error {
	return c.send(&wire.Message{Tag: wire.TagEntryFlagsUpdate, ID: id, Flags: flags})
}

// DeleteEntry sends an EntryDelete for id.
func (c *Client) DeleteEntry(id wire.EntryID) error {
	return c.send(&wire.Message{Tag: wire.TagEntryDelete, ID: id})
}

// ClearEntries sends a well-formed ClearAllEntries.
func (c *Client) ClearEntries() error {
	return c.send(&wire.Message{Tag: wire.TagClearAllEntries, Magic: wire.ClearMagic})
}

// AddCallback registers fn to run for every future directory event of kind.
func (c *Client) AddCallback(kind fanout.Kind, fn func(fanout.Event)) {
	c.fan.On(kind, fn)
}

// AddConnectionCallback registers fn to run on ClientConnected and
// ClientDisconnected events.
func (c *Client) AddConnectionCallback(fn func(fanout.Event)) {
	c.fan.On(fanout.ClientConnected, fn)
	c.fan.On(fanout.ClientDisconnected, fn)
}

// CreateRPC registers h as the handler for RPCs the server (or a peer) sends
// with rpc entry id id, hosted locally by this client.
func (c *Client) CreateRPC(id wire.EntryID, h rpc.Handler) {
	c.served.Register(id, h)
}

// CallRPC invokes the RPC at id with param bytes and calls cb exactly once
// with the result once the response arrives.
func (c *Client) CallRPC(id wire.EntryID, param []byte, cb rpc.ResultCallback) error {
	uniqueID := c.calls.Call(id, cb)
	if err := c.send(&wire.Message{Tag: wire.TagRpcExecute, RPCID: id, UniqueID: uniqueID, Bytes: param}); err != nil {
		c.calls.Cancel(id, uniqueID)
		return err
	}
	return nil
}
