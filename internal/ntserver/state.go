// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntserver

// State is one server-side connection's position in the NTv3 handshake and
// steady-state lifecycle.
type State int

const (
	StateAwaitClientHello State = iota
	StateStreaming
	StateAwaitClientHelloComplete
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitClientHello:
		return "AwaitClientHello"
	case StateStreaming:
		return "Streaming"
	case StateAwaitClientHelloComplete:
		return "AwaitClientHelloComplete"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
