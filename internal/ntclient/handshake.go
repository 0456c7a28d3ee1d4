// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntclient

import (
	"fmt"
	"io"
	"net"

	"github.com/sandia-minimega/networktables/internal/fanout"
	"github.com/sandia-minimega/networktables/internal/ntlog"
	"github.com/sandia-minimega/networktables/internal/wire"
)

// handshake drives the client side of the NTv3 handshake synchronously:
// ClientHello -> {ProtocolVersionUnsupported | ServerHello, EntryAssignment*,
// ServerHelloComplete} -> ClientHelloComplete. It blocks the caller (Dial
// or Reconnect) and must complete before the steady-state read loop starts,
// per the state table's AwaitServerHello/ReceivingAssignments ordering. Any
// bytes read past the handshake's final message are handed to the steady
// state read loop rather than discarded.
func (c *Client) handshake(conn net.Conn) error {
	c.setState(StateConnecting)

	hello := &wire.Message{Tag: wire.TagClientHello, ClientVersion: wire.ProtocolVersion, ClientName: c.name}
	buf, err := wire.Encode(hello)
	if err != nil {
		return fmt.Errorf("ntclient: encode ClientHello: %w", err)
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("ntclient: write ClientHello: %w", err)
	}

	hs := &handshakeReader{conn: conn, buf: make([]byte, 0, readBufferInitialCap), tmp: make([]byte, readBufferInitialCap)}

	c.setState(StateAwaitServerHello)
	m, err := hs.next()
	if err != nil {
		return fmt.Errorf("ntclient: awaiting ServerHello: %w", err)
	}

	switch m.Tag {
	case wire.TagProtocolVersionUnsupported:
		return ErrUnsupportedVersion
	case wire.TagServerHello:
		// ServerFlags/ServerName currently informational only.
	default:
		return fmt.Errorf("ntclient: expected ServerHello, got %v", m.Tag)
	}

	c.setState(StateReceivingAssignments)
	for {
		m, err := hs.next()
		if err != nil {
			return fmt.Errorf("ntclient: receiving assignments: %w", err)
		}

		switch m.Tag {
		case wire.TagServerHelloComplete:
			goto done
		case wire.TagEntryAssignment:
			entry, _ := c.dir.ApplyAssignment(m.ID, m.EntryName, m.Type, m.Flags, m.Seqnum, m.Value)
			c.fan.Fire(fanout.Event{Kind: fanout.Add, Entry: entry})
		default:
			ntlog.Warn("ntclient: unexpected message %v during bootstrap, ignoring", m.Tag)
		}
	}

done:
	complete, err := wire.Encode(&wire.Message{Tag: wire.TagClientHelloComplete})
	if err != nil {
		return fmt.Errorf("ntclient: encode ClientHelloComplete: %w", err)
	}
	if _, err := conn.Write(complete); err != nil {
		return fmt.Errorf("ntclient: write ClientHelloComplete: %w", err)
	}

	c.mu.Lock()
	c.handshakeSpillover = hs.buf
	c.mu.Unlock()

	return nil
}

// handshakeReader reads and decodes exactly one message at a time from conn,
// buffering any bytes read past a message boundary for the next call.
type handshakeReader struct {
	conn net.Conn
	buf  []byte
	tmp  []byte
}

func (h *handshakeReader) next() (*wire.Message, error) {
	for {
		m, consumed, err := wire.Decode(h.buf)
		if err == nil {
			h.buf = h.buf[consumed:]
			return m, nil
		}
		if err != wire.ErrNeedMoreData {
			return nil, err
		}

		n, rerr := h.conn.Read(h.tmp)
		if n > 0 {
			h.buf = append(h.buf, h.tmp[:n]...)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, rerr
		}
	}
}
