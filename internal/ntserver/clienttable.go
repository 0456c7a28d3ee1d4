// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntserver

import (
	"net"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/sandia-minimega/networktables/internal/wire"
)

// conn is one accepted client connection: its network plumbing, handshake
// state, and a per-connection outbound queue so a slow or wedged client
// cannot block delivery to its peers. id is a uuid rather than a counter so
// log lines and client-table entries survive a server restart without
// colliding -- the same reasoning ron.Server applies to its client table.
type conn struct {
	id   uuid.UUID
	raw  net.Conn
	name string // ClientName offered in the client's ClientHello

	mu    sync.Mutex
	state State

	outbound  chan *wire.Message
	closed    chan struct{}
	once      sync.Once
	spillover []byte // bytes read past the handshake's last message
}

const outboundQueueDepth = 256

func newConn(raw net.Conn) *conn {
	id, err := uuid.NewV4()
	if err != nil {
		// crypto/rand failure: vanishingly rare, and a zero-value uuid
		// still uniquely identifies this conn within a single table.
		id = uuid.UUID{}
	}
	return &conn{
		id:       id,
		raw:      raw,
		state:    StateAwaitClientHello,
		outbound: make(chan *wire.Message, outboundQueueDepth),
		closed:   make(chan struct{}),
	}
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conn) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// enqueue queues m for delivery to this client, dropping it if the client's
// outbound queue is full rather than blocking the broadcaster -- a single
// unresponsive client must never stall delivery to the rest.
func (c *conn) enqueue(m *wire.Message) {
	select {
	case c.outbound <- m:
	case <-c.closed:
	default:
		// queue full: this client is falling behind. It will miss this
		// message; the directory is the source of truth it can re-sync
		// against on reconnect.
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.raw.Close()
	})
}

// clientTable is the server's registry of currently-connected clients,
// keyed by connection id.
type clientTable struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*conn
}

func newClientTable() *clientTable {
	return &clientTable{clients: make(map[uuid.UUID]*conn)}
}

func (t *clientTable) add(raw net.Conn) *conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := newConn(raw)
	t.clients[c.id] = c
	return c
}

func (t *clientTable) remove(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
}

// all returns a snapshot of currently-registered connections.
func (t *clientTable) all() []*conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*conn, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

func (t *clientTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}
