// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package rpc

import (
	"sync"

	"github.com/sandia-minimega/networktables/internal/ntlog"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// Handler answers an RpcExecute's parameter bytes with result bytes. It
// must not panic across goroutine boundaries uncaught -- Server.InvokeAsync
// recovers any panic and substitutes an empty result, per the required
// fault barrier.
type Handler func(param []byte) []byte

// Server stores registered RPC handlers keyed by entry id and dispatches
// RpcExecute requests to them.
type Server struct {
	mu       sync.Mutex
	handlers map[wire.EntryID]Handler
}

// NewServer returns an empty RPC handler registry.
func NewServer() *Server {
	return &Server{handlers: make(map[wire.EntryID]Handler)}
}

// Register associates id (the RpcDefinition entry's server-assigned id)
// with h. Any previous handler for id is replaced.
func (s *Server) Register(id wire.EntryID, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[id] = h
}

// Unregister removes the handler for id, if any.
func (s *Server) Unregister(id wire.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

// InvokeAsync runs the handler registered for id in its own goroutine and
// calls respond with the result once it completes. If no handler is
// registered, or the handler panics, respond is called with a nil result --
// the caller still emits an RpcResponse so the client's in-flight call is
// always resolved exactly once, per the server's panic-isolation contract.
func (s *Server) InvokeAsync(id wire.EntryID, param []byte, respond func(result []byte)) {
	s.mu.Lock()
	h, ok := s.handlers[id]
	s.mu.Unlock()

	if !ok {
		ntlog.Error("rpc: no handler registered for entry %d", id)
		respond(nil)
		return
	}

	go func() {
		respond(invoke(id, h, param))
	}()
}

func invoke(id wire.EntryID, h Handler, param []byte) (result []byte) {
	defer func() {
		if r := recover(); r != nil {
			ntlog.Error("rpc: handler for entry %d panicked: %v", id, r)
			result = nil
		}
	}()
	return h(param)
}
