// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package transport adapts NTv3's byte-stream framing onto the two carriers
// the spec requires: raw TCP (used as-is, net.Conn already provides the
// right interface) and WebSocket binary frames. Both server and client code
// in internal/ntserver and internal/ntclient depend only on net.Conn, so a
// WebSocket connection is wrapped to satisfy it.
package transport

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sandia-minimega/networktables/internal/wire"
)

// Subprotocol is the WebSocket subprotocol token NTv3-over-WS negotiates.
// Matching is a case-insensitive substring check against the client's
// offered Sec-WebSocket-Protocol list, per the framing spec.
const Subprotocol = wire.WebSocketSubprotocol

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{Subprotocol},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dialer bounds the WS handshake to the same ~500ms connect window
// recommended for TCP dials (spec.md §5); DefaultDialer has no timeout.
var dialer = websocket.Dialer{
	HandshakeTimeout: 500 * time.Millisecond,
	Subprotocols:     []string{Subprotocol},
}

// wsConn adapts a *websocket.Conn to net.Conn: Read/Write move NTv3 message
// bytes across WS binary frames while Close/address/deadline methods
// delegate to the underlying connection gorilla/websocket dialed or
// upgraded.
type wsConn struct {
	ws *websocket.Conn

	pending []byte // unread bytes from the most recent WS message
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(maxMsgSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.pending = data
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error                       { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr                 { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr                { return c.ws.RemoteAddr() }
func (c *wsConn) SetDeadline(t time.Time) error       { return c.ws.UnderlyingConn().SetDeadline(t) }
func (c *wsConn) SetReadDeadline(t time.Time) error   { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error  { return c.ws.UnderlyingConn().SetWriteDeadline(t) }

// keepWSAlive pings the peer every pingPeriod so intermediaries (and the
// pongWait read deadline above) don't treat an idle-but-live NTv3 connection
// as dead; NTv3's own once-per-second KeepAlive is an application-layer
// concern the state machines already handle independently of this.
func keepWSAlive(c *wsConn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for range t.C {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// DialWS connects to a NTv3-over-WebSocket server at url (e.g.
// "ws://host:port/nt") and returns a net.Conn-compatible wrapper.
func DialWS(url string) (net.Conn, error) {
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	c := newWSConn(ws)
	go keepWSAlive(c)
	return c, nil
}

// Accept is called once per successfully-upgraded WebSocket connection.
type Accept func(conn net.Conn)

// ServeWS mounts a NTv3-over-WebSocket endpoint at path on router, calling
// accept for each client that negotiates the required subprotocol. Intended
// to be run alongside an ntserver.Server, handing each accepted wsConn to
// the same connection-handling path a raw TCP listener would use.
func ServeWS(router *mux.Router, path string, accept Accept) {
	router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if !offersSubprotocol(r) {
			http.Error(w, "missing networktables subprotocol", http.StatusBadRequest)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := newWSConn(ws)
		go keepWSAlive(c)
		accept(c)
	})
}

func offersSubprotocol(r *http.Request) bool {
	offered := r.Header.Get("Sec-WebSocket-Protocol")
	return strings.Contains(strings.ToLower(offered), Subprotocol)
}
