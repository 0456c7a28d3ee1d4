// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package rpc

import (
	"sync"

	"github.com/sandia-minimega/networktables/internal/wire"
)

// ResultCallback is invoked exactly once with an RPC call's result bytes.
type ResultCallback func(result []byte)

type callKey struct {
	id       wire.EntryID
	uniqueID uint16
}

// Client tracks in-flight RPC calls issued by this peer, correlating each
// RpcResponse back to the callback registered for its (rpc_id, unique_id)
// pair.
type Client struct {
	mu       sync.Mutex
	nextID   uint16
	inflight map[callKey]ResultCallback
}

// NewClient returns an empty in-flight call tracker.
func NewClient() *Client {
	return &Client{inflight: make(map[callKey]ResultCallback)}
}

// Call allocates a fresh unique_id local to this caller, registers cb to
// receive the eventual result, and returns the unique_id to embed in the
// outgoing RpcExecute message.
func (c *Client) Call(id wire.EntryID, cb ResultCallback) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	uniqueID := c.nextID
	c.nextID++

	c.inflight[callKey{id: id, uniqueID: uniqueID}] = cb

	return uniqueID
}

// Resolve looks up the callback for (id, uniqueID), removes it, and invokes
// it with result. Responses for an id/uniqueID pair that was never issued
// (or was already resolved) are discarded; Resolve reports whether a
// callback was found.
func (c *Client) Resolve(id wire.EntryID, uniqueID uint16, result []byte) bool {
	c.mu.Lock()
	key := callKey{id: id, uniqueID: uniqueID}
	cb, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	cb(result)
	return true
}

// Cancel removes the in-flight slot for (id, uniqueID) without invoking its
// callback, for a caller that registered a call via Call but failed to get
// the corresponding request onto the wire.
func (c *Client) Cancel(id wire.EntryID, uniqueID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, callKey{id: id, uniqueID: uniqueID})
}

// Pending reports the number of in-flight calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
