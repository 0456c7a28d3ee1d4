// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package transport

import (
	"fmt"
	"net"
)

// DialTCP connects to addr over raw TCP. A net.Conn already speaks the
// interface internal/ntclient and internal/ntserver need, so this exists
// only to keep both carriers symmetric at call sites.
func DialTCP(addr string) (net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
	}
	return conn, nil
}

// ListenTCP binds addr for raw TCP NTv3 connections.
func ListenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %s: %w", addr, err)
	}
	return ln, nil
}
