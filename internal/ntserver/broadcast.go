// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntserver

import "github.com/sandia-minimega/networktables/internal/wire"

// broadcast enqueues m for delivery to every connected client in
// StateConnected except skip (the originator of the change, if any), in the
// client table's iteration order. Per-connection delivery order is
// preserved by each conn's own outbound queue and writer goroutine.
func (s *Server) broadcast(m *wire.Message, skip *conn) {
	for _, c := range s.clients.all() {
		if c == skip {
			continue
		}
		if c.getState() != StateConnected {
			continue
		}
		c.enqueue(m)
	}
}
