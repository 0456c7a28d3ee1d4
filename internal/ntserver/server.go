// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package ntserver implements the server side of the NTv3 connection state
// machine: accepting connections, performing the bootstrap handshake against
// the shared directory, steady-state message dispatch, and ordered
// broadcast of directory mutations to every other connected client.
package ntserver

import (
	"context"
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

const defaultServerName = "go-networktables"

const readBufferInitialCap = 4096

// Server is a single NTv3 server instance: one shared Directory, the set of
// currently-connected clients, and the RPC handlers this server hosts.
type Server struct {
	name    string
	dir     *directory.Directory
	fan     *fanout.Registry
	calls   *rpc.Client
	served  *rpc.Server
	clients *clientTable

	ctx    context.Context
	cancel context.CancelFunc

	listenersMu sync.Mutex
	listeners   map[net.Listener]struct{}
}

// New returns a Server with an empty directory, identified to clients as
// name in its ServerHello (an empty name falls back to defaultServerName).
// The returned Server's lifetime context is cancelled by Shutdown, which
// every connection's reader/writer pair observes as the broadcast-style
// one-shot shutdown signal described in spec.md §5/§9.
func New(name string) *Server {
	if name == "" {
		name = defaultServerName
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		name:      name,
		dir:       directory.New(),
		fan:       fanout.NewRegistry(),
		calls:     rpc.NewClient(),
		served:    rpc.NewServer(),
		clients:   newClientTable(),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
	}
}

// Listen accepts connections on network/addr (e.g. "tcp", ":1735") until the
// listener is closed or Close is called. It blocks the caller; run it in its
// own goroutine to serve while the rest of the program proceeds.
func (s *Server) Listen(network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("ntserver: listen %s %s: %w", network, addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on an already-bound listener.
func (s *Server) Serve(ln net.Listener) error {
	s.listenersMu.Lock()
	s.listeners[ln] = struct{}{}
	s.listenersMu.Unlock()

	defer func() {
		s.listenersMu.Lock()
		delete(s.listeners, ln)
		s.listenersMu.Unlock()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("ntserver: accept: %w", err)
		}
		go s.handle(raw)
	}
}

// Close stops accepting new connections on every listener registered via
// Serve/Listen. It does not terminate already-connected clients; call
// Shutdown for that.
func (s *Server) Close() error {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	var firstErr error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown stops accepting new connections and cancels every connected
// client's lifetime context, so each connection's reader/writer goroutines
// wind down cooperatively at their next suspension point -- the forced
// termination spec.md §5 says is not required.
func (s *Server) Shutdown() error {
	err := s.Close()
	s.cancel()
	return err
}

// HandleConn drives the full connection lifecycle (handshake, steady state,
// teardown) for a connection accepted outside Serve's own TCP accept loop --
// e.g. a WebSocket connection handed over by internal/transport.ServeWS.
func (s *Server) HandleConn(conn net.Conn) {
	s.handle(conn)
}

func (s *Server) handle(raw net.Conn) {
	c := s.clients.add(raw)

	remote := raw.RemoteAddr().String()

	if err := s.handshake(c); err != nil {
		if err != io.EOF {
			ntlog.Error("ntserver: handshake with %v failed: %v", remote, err)
		}
		s.clients.remove(c.id)
		c.setState(StateClosed)
		c.close()
		return
	}

	c.setState(StateConnected)
	s.fan.Fire(fanout.Event{Kind: fanout.ClientConnected, Addr: remote})

	// One errgroup per connection, derived from the server's lifetime
	// context: Shutdown cancelling s.ctx is the broadcast-style one-shot
	// signal both goroutines observe at their next suspension point.
	connCtx, cancel := context.WithCancel(s.ctx)
	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error { s.writerLoop(gctx, c); return nil })
	g.Go(func() error { s.readerLoop(c, remote); return nil })
	go func() {
		<-gctx.Done()
		c.close()
	}()
	g.Wait()
	cancel()

	s.clients.remove(c.id)
	s.fan.Fire(fanout.Event{Kind: fanout.ClientDisconnected, Addr: remote})
}

func (s *Server) writerLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case m := <-c.outbound:
			buf, err := wire.Encode(m)
			if err != nil {
				ntlog.Error("ntserver: encode %v for conn %s: %v", m.Tag, c.id, err)
				continue
			}
			if _, err := c.raw.Write(buf); err != nil {
				ntlog.Debug("ntserver: write to conn %s: %v", c.id, err)
				c.close()
				return
			}
		}
	}
}

func (s *Server) readerLoop(c *conn, remote string) {
	defer c.close()

	buf := make([]byte, 0, readBufferInitialCap)
	buf = append(buf, c.spillover...)
	c.spillover = nil
	tmp := make([]byte, readBufferInitialCap)

	for {
		for {
			msg, consumed, err := wire.Decode(buf)
			if err == wire.ErrNeedMoreData {
				break
			}
			if err != nil {
				ntlog.Error("ntserver: malformed frame from %v: %v", remote, err)
				return
			}
			buf = buf[consumed:]
			s.dispatch(c, msg)
		}

		n, err := c.raw.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				ntlog.Debug("ntserver: read from %v: %v", remote, err)
			}
			return
		}
	}
}

func (s *Server) dispatch(c *conn, m *wire.Message) {
	switch m.Tag {
	case wire.TagKeepAlive:
		// liveness only.

	case wire.TagEntryAssignment:
		s.applyAssignment(c, m)

	case wire.TagEntryUpdate:
		entry, accepted := s.dir.ApplyUpdate(m.ID, m.Seqnum, m.Type, m.Value)
		if accepted {
			s.fan.Fire(fanout.Event{Kind: fanout.Update, Entry: entry})
			s.broadcast(m, c)
		}

	case wire.TagEntryFlagsUpdate:
		if _, ok := s.dir.ApplyFlagsUpdate(m.ID, m.Flags); ok {
			s.broadcast(m, c)
		}

	case wire.TagEntryDelete:
		entry, ok := s.dir.ApplyDelete(m.ID)
		if ok {
			s.fan.Fire(fanout.Event{Kind: fanout.Delete, Entry: entry})
			s.broadcast(m, c)
		}

	case wire.TagClearAllEntries:
		removed, honored := s.dir.ApplyClear(m.Magic)
		if honored {
			for _, entry := range removed {
				s.fan.Fire(fanout.Event{Kind: fanout.Delete, Entry: entry})
			}
			s.broadcast(m, c)
		}

	case wire.TagRpcExecute:
		s.served.InvokeAsync(m.RPCID, m.Bytes, func(result []byte) {
			c.enqueue(&wire.Message{Tag: wire.TagRpcResponse, RPCID: m.RPCID, UniqueID: m.UniqueID, Bytes: result})
		})

	case wire.TagRpcResponse:
		s.calls.Resolve(m.RPCID, m.UniqueID, m.Bytes)

	default:
		ntlog.Warn("ntserver: unexpected message %v in steady state from conn %s", m.Tag, c.id)
	}
}

// applyAssignment folds an incoming EntryAssignment into the directory. A
// client requesting server-assigned id (UnassignedID) is creating a new
// entry by name; the server allocates the id and echoes the assignment back
// to every client, including the requester, so the requester's own
// create-entry future resolves off the same broadcast path as everyone
// else's view.
func (s *Server) applyAssignment(c *conn, m *wire.Message) {
	if m.ID == wire.EntryID(wire.UnassignedID) {
		if existing, ok := s.dir.GetByName(m.EntryName); ok {
			c.enqueue(&wire.Message{
				Tag: wire.TagEntryAssignment, EntryName: existing.Name, ID: existing.ID,
				Type: existing.Type, Flags: existing.Flags, Seqnum: existing.Seqnum, Value: existing.Value,
			})
			return
		}

		id := s.dir.Insert(m.EntryName, m.Type, m.Flags, m.Value)
		entry, _ := s.dir.Get(id)
		s.fan.Fire(fanout.Event{Kind: fanout.Add, Entry: entry})
		s.broadcast(&wire.Message{
			Tag: wire.TagEntryAssignment, EntryName: entry.Name, ID: entry.ID,
			Type: entry.Type, Flags: entry.Flags, Seqnum: entry.Seqnum, Value: entry.Value,
		}, nil)
		return
	}

	// A steady-state EntryAssignment naming a real id is malformed: only the
	// server ever assigns ids, and it always does so via the UnassignedID
	// path above. Drop it silently rather than letting ApplyAssignment graft
	// a new name onto an existing id.
}

// Entries returns a snapshot of every entry currently in the directory.
func (s *Server) Entries() []directory.Entry {
	return s.dir.Snapshot()
}

// GetEntry returns the entry named name, if known.
func (s *Server) GetEntry(name string) (directory.Entry, bool) {
	return s.dir.GetByName(name)
}

// CreateEntry inserts a new entry, server-side, and broadcasts its
// assignment to every connected client.
func (s *Server) CreateEntry(name string, typ wire.EntryType, flags uint8, value wire.Value) wire.EntryID {
	id := s.dir.Insert(name, typ, flags, value)
	entry, _ := s.dir.Get(id)
	s.fan.Fire(fanout.Event{Kind: fanout.Add, Entry: entry})
	s.broadcast(&wire.Message{
		Tag: wire.TagEntryAssignment, EntryName: entry.Name, ID: entry.ID,
		Type: entry.Type, Flags: entry.Flags, Seqnum: entry.Seqnum, Value: entry.Value,
	}, nil)
	return id
}

// UpdateEntry applies a server-originated update to id and broadcasts it.
func (s *Server) UpdateEntry(id wire.EntryID, value wire.Value) error {
	entry, ok := s.dir.Get(id)
	if !ok {
		return fmt.Errorf("ntserver: unknown entry id %d", id)
	}
	m := &wire.Message{Tag: wire.TagEntryUpdate, ID: id, Type: entry.Type, Seqnum: entry.Seqnum + 1, Value: value}
	updated, accepted := s.dir.ApplyUpdate(id, m.Seqnum, m.Type, value)
	if accepted {
		s.fan.Fire(fanout.Event{Kind: fanout.Update, Entry: updated})
		s.broadcast(m, nil)
	}
	return nil
}

// UpdateEntryFlags applies a server-originated flags update to id and
// broadcasts it. Unlike UpdateEntry, the directory always accepts a flags
// update for an existing entry (spec.md §4.2); there is nothing to reject.
func (s *Server) UpdateEntryFlags(id wire.EntryID, flags uint8) error {
	entry, ok := s.dir.ApplyFlagsUpdate(id, flags)
	if !ok {
		return fmt.Errorf("ntserver: unknown entry id %d", id)
	}
	s.fan.Fire(fanout.Event{Kind: fanout.Update, Entry: entry})
	s.broadcast(&wire.Message{Tag: wire.TagEntryFlagsUpdate, ID: id, Flags: flags}, nil)
	return nil
}

// DeleteEntry removes id, server-side, and broadcasts the deletion.
func (s *Server) DeleteEntry(id wire.EntryID) {
	if entry, ok := s.dir.ApplyDelete(id); ok {
		s.fan.Fire(fanout.Event{Kind: fanout.Delete, Entry: entry})
		s.broadcast(&wire.Message{Tag: wire.TagEntryDelete, ID: id}, nil)
	}
}

// ClearEntries clears every non-persistent entry and broadcasts the
// directive.
func (s *Server) ClearEntries() {
	removed, honored := s.dir.ApplyClear(wire.ClearMagic)
	if !honored {
		return
	}
	for _, entry := range removed {
		s.fan.Fire(fanout.Event{Kind: fanout.Delete, Entry: entry})
	}
	s.broadcast(&wire.Message{Tag: wire.TagClearAllEntries, Magic: wire.ClearMagic}, nil)
}

// AddCallback registers fn to run for every future directory event of kind.
func (s *Server) AddCallback(kind fanout.Kind, fn func(fanout.Event)) {
	s.fan.On(kind, fn)
}

// AddConnectionCallback registers fn to run on ClientConnected and
// ClientDisconnected events.
func (s *Server) AddConnectionCallback(fn func(fanout.Event)) {
	s.fan.On(fanout.ClientConnected, fn)
	s.fan.On(fanout.ClientDisconnected, fn)
}

// CreateRPC registers h as the handler for RPCs hosted at entry id. Use this
// when id was already allocated (e.g. by a prior RegisterRPC call) or is
// otherwise agreed out of band; RegisterRPC is the usual entry point, since
// it also creates the advertised RpcDefinition entry.
func (s *Server) CreateRPC(id wire.EntryID, h rpc.Handler) {
	s.served.Register(id, h)
}

// RegisterRPC inserts an RpcDefinition entry named name (server-assigned id,
// broadcast to every client like any other new entry) and binds h as its
// handler, per the RPC subsystem's register_rpc(entry_data, handler)
// contract (spec.md §4.5). def.Name is overwritten with name.
func (s *Server) RegisterRPC(name string, def *wire.RPCDefinition, flags uint8, h rpc.Handler) (wire.EntryID, error) {
	if err := rpc.ValidateDefinition(def); err != nil {
		return 0, err
	}
	def.Name = name

	id := s.CreateEntry(name, wire.TypeRPCDefinition, flags, wire.RPCDefinitionValue(def))
	s.served.Register(id, h)
	return id, nil
}

// ClientCount returns the number of currently-connected clients.
func (s *Server) ClientCount() int {
	return s.clients.count()
}
