// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntserver

import (
	"fmt"
	"io"
	"sort"

	"github.com/sandia-minimega/networktables/internal/wire"
)

// handshake drives the server side of the NTv3 handshake: receive
// ClientHello, reject an unsupported protocol version, otherwise stream
// ServerHello, a snapshot of every directory entry as EntryAssignment, and
// ServerHelloComplete, then wait for ClientHelloComplete. Bytes read past
// the final handshake message are stashed on c for the reader loop to
// consume first.
func (s *Server) handshake(c *conn) error {
	hr := &handshakeReader{raw: c.raw, buf: make([]byte, 0, readBufferInitialCap), tmp: make([]byte, readBufferInitialCap)}

	hello, err := hr.next()
	if err != nil {
		return fmt.Errorf("awaiting ClientHello: %w", err)
	}
	if hello.Tag != wire.TagClientHello {
		return fmt.Errorf("expected ClientHello, got %v", hello.Tag)
	}
	c.name = hello.ClientName

	if hello.ClientVersion != wire.ProtocolVersion {
		unsupported, err := wire.Encode(&wire.Message{Tag: wire.TagProtocolVersionUnsupported, SupportedVersion: wire.ProtocolVersion})
		if err != nil {
			return fmt.Errorf("encode ProtocolVersionUnsupported: %w", err)
		}
		c.raw.Write(unsupported)
		return fmt.Errorf("client %s offered unsupported version 0x%04x", c.name, hello.ClientVersion)
	}

	c.setState(StateStreaming)

	serverHello, err := wire.Encode(&wire.Message{Tag: wire.TagServerHello, ServerName: s.name})
	if err != nil {
		return fmt.Errorf("encode ServerHello: %w", err)
	}
	if _, err := c.raw.Write(serverHello); err != nil {
		return fmt.Errorf("write ServerHello: %w", err)
	}

	bootstrap := s.dir.Snapshot()
	sort.Slice(bootstrap, func(i, j int) bool { return bootstrap[i].ID < bootstrap[j].ID })

	for _, entry := range bootstrap {
		buf, err := wire.Encode(&wire.Message{
			Tag: wire.TagEntryAssignment, EntryName: entry.Name, ID: entry.ID,
			Type: entry.Type, Flags: entry.Flags, Seqnum: entry.Seqnum, Value: entry.Value,
		})
		if err != nil {
			return fmt.Errorf("encode bootstrap EntryAssignment for %q: %w", entry.Name, err)
		}
		if _, err := c.raw.Write(buf); err != nil {
			return fmt.Errorf("write bootstrap EntryAssignment for %q: %w", entry.Name, err)
		}
	}

	complete, err := wire.Encode(&wire.Message{Tag: wire.TagServerHelloComplete})
	if err != nil {
		return fmt.Errorf("encode ServerHelloComplete: %w", err)
	}
	if _, err := c.raw.Write(complete); err != nil {
		return fmt.Errorf("write ServerHelloComplete: %w", err)
	}

	c.setState(StateAwaitClientHelloComplete)

	// A client may start sending EntryAssignment messages as soon as it has
	// read ServerHelloComplete, before its own ClientHelloComplete ack has
	// reached us -- fold those in rather than treating them as a protocol
	// error.
	for {
		m, err := hr.next()
		if err != nil {
			return fmt.Errorf("awaiting ClientHelloComplete: %w", err)
		}
		if m.Tag == wire.TagClientHelloComplete {
			break
		}
		if m.Tag != wire.TagEntryAssignment {
			return fmt.Errorf("expected ClientHelloComplete, got %v", m.Tag)
		}
		s.applyAssignment(c, m)
	}

	c.spillover = hr.buf

	return nil
}

// handshakeReader reads and decodes exactly one message at a time, buffering
// bytes read past a message boundary for the next call.
type handshakeReader struct {
	raw interface {
		Read(p []byte) (int, error)
	}
	buf []byte
	tmp []byte
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

		n, rerr := h.raw.Read(h.tmp)
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
