// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntclient

// State is a client connection's position in the NTv3 handshake/steady-state
// lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitServerHello
	StateReceivingAssignments
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateAwaitServerHello:
		return "AwaitServerHello"
	case StateReceivingAssignments:
		return "ReceivingAssignments"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
