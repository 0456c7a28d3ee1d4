// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntv4

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sandia-minimega/networktables/internal/directory"
	"github.com/sandia-minimega/networktables/internal/fanout"
	"github.com/sandia-minimega/networktables/internal/ntlog"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// Subprotocol is the NTv4 WebSocket subprotocol token, distinct from NTv3's
// (internal/transport.Subprotocol) because the two are unrelated wire
// formats sharing only the directory/fanout plumbing underneath.
const Subprotocol = "v4.1.networktables.first.wpi.edu"

// topicType maps an NTv4 JSON type string onto the wire.EntryType it shares
// a directory representation with. NTv4 has no RPC-definition or persistent
// flag equivalent in its type string, so those two wire.EntryType values
// are unreachable from this mapping.
var topicType = map[string]wire.EntryType{
	"boolean":   wire.TypeBoolean,
	"double":    wire.TypeDouble,
	"string":    wire.TypeString,
	"raw":       wire.TypeRaw,
	"boolean[]": wire.TypeBooleanArray,
	"double[]":  wire.TypeDoubleArray,
	"string[]":  wire.TypeStringArray,
}

func typeName(t wire.EntryType) string {
	for name, tt := range topicType {
		if tt == t {
			return name
		}
	}
	return "raw"
}

// Hub bridges NTv4's publish/announce/subscribe control channel to a shared
// directory.Directory and fanout.Registry -- the same types the NTv3 engine
// (internal/ntclient, internal/ntserver) uses, per the instruction not to duplicate the entry store
// for a second wire protocol.
type Hub struct {
	dir *directory.Directory
	fan *fanout.Registry

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub returns a Hub sharing dir and fan with whatever NTv3 engine (if
// any) is also running against them.
func NewHub(dir *directory.Directory, fan *fanout.Registry) *Hub {
	return &Hub{dir: dir, fan: fan, clients: make(map[*websocket.Conn]struct{})}
}

// HandleConn takes ownership of an upgraded WebSocket connection that
// offered Subprotocol: it announces every existing topic, then services
// publish/unpublish/subscribe/unsubscribe messages until the connection
// closes. It blocks until the connection ends.
func (h *Hub) HandleConn(ws *websocket.Conn) {
	h.mu.Lock()
	h.clients[ws] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, ws)
		h.mu.Unlock()
		ws.Close()
	}()

	if err := h.announceSnapshot(ws); err != nil {
		ntlog.Debug("ntv4: announce snapshot: %v", err)
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var batch []Envelope
		if err := json.Unmarshal(data, &batch); err != nil {
			ntlog.Warn("ntv4: malformed control batch: %v", err)
			continue
		}
		for _, env := range batch {
			h.handle(env)
		}
	}
}

func (h *Hub) announceSnapshot(ws *websocket.Conn) error {
	var batch []Envelope
	for _, e := range h.dir.Snapshot() {
		batch = append(batch, announceEnvelope(e))
	}
	if len(batch) == 0 {
		return nil
	}
	return writeBatch(ws, batch)
}

func announceEnvelope(e directory.Entry) Envelope {
	return Envelope{
		Method: MethodAnnounce,
		Params: PublishParams{
			Name: e.Name,
			Type: typeName(e.Type),
			ID:   int(e.ID),
			Properties: map[string]interface{}{
				"persistent": e.Persistent(),
			},
		},
	}
}

// handle applies one control-channel message to the shared directory. A
// "publish" with a topic name unknown to the directory creates it (mapped
// onto directory.Directory.Insert, the same path NTv3's server-originated
// creation uses); "subscribe"/"unsubscribe" are accepted but are no-ops in
// this stub, since fan-out to NTv4 peers themselves is not implemented --
// only the shared directory/callback state is.
func (h *Hub) handle(env Envelope) {
	switch env.Method {
	case MethodPublish:
		typ, ok := topicType[env.Params.Type]
		if !ok {
			ntlog.Warn("ntv4: publish with unknown type %q", env.Params.Type)
			return
		}
		if _, ok := h.dir.GetByName(env.Params.Name); ok {
			return
		}
		id := h.dir.Insert(env.Params.Name, typ, 0, wire.Value{})
		entry, _ := h.dir.Get(id)
		h.fan.Fire(fanout.Event{Kind: fanout.Add, Entry: entry})

	case MethodUnpublish:
		if entry, ok := h.dir.GetByName(env.Params.Name); ok {
			if _, ok := h.dir.ApplyDelete(entry.ID); ok {
				h.fan.Fire(fanout.Event{Kind: fanout.Delete, Entry: entry})
			}
		}

	case MethodSubscribe, MethodUnsubscribe:
		// Accepted, no-op: see doc comment.

	default:
		ntlog.Debug("ntv4: unhandled method %q", env.Method)
	}
}

func writeBatch(ws *websocket.Conn, batch []Envelope) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("ntv4: marshal batch: %w", err)
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}
