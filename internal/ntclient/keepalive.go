// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntclient

import (
	"context"
	"net"
	"time"

	"github.com/sandia-minimega/networktables/internal/ntlog"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// keepAliveInterval is the required once-per-second KeepAlive cadence.
const keepAliveInterval = time.Second

// keepAliveLoop sends a KeepAlive message on conn every keepAliveInterval
// until the connection is torn down. Encode errors never occur for a
// KeepAlive (it carries no payload); write errors are logged and end the
// loop, since the read loop will observe the same failure and tear down the
// connection. ctx is the sibling read loop's errgroup context, cancelled
// when that loop ends for any reason other than Close (EOF or a transport
// error); c.closed is the signal for Close itself.
func (c *Client) keepAliveLoop(ctx context.Context, conn net.Conn) {
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()

	msg, _ := wire.Encode(&wire.Message{Tag: wire.TagKeepAlive})

	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := conn.Write(msg); err != nil {
				ntlog.Debug("ntclient: keep-alive write: %v", err)
				return
			}
		}
	}
}
