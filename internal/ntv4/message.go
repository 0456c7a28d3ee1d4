// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package ntv4 implements a minimal slice of the NetworkTables v4 protocol:
// the JSON-over-WebSocket publish/announce/subscribe control path. NTv4 is a
// distinct wire protocol from NTv3 (internal/wire, internal/ntclient,
// internal/ntserver) -- per SPEC_FULL.md §9 it is not merged into the NTv3
// state machine -- but it shares this module's directory and callback
// components by talking to the same internal/directory.Directory and
// internal/fanout.Registry types through its own Hub.
//
// Only the textual control/publish path is represented; NTv4's binary
// MessagePack value frames are out of scope for this stub.
package ntv4

// MethodType identifies one of the NTv4 control-channel JSON RPC methods
// carried as the "method" field of a top-level message.
type MethodType string

const (
	MethodPublish     MethodType = "publish"
	MethodUnpublish   MethodType = "unpublish"
	MethodSetProperty MethodType = "setproperties"
	MethodSubscribe   MethodType = "subscribe"
	MethodUnsubscribe MethodType = "unsubscribe"
	MethodAnnounce    MethodType = "announce"
	MethodUnannounce  MethodType = "unannounce"
)

// Envelope is the top-level shape of every NTv4 text-frame message: a batch
// is a JSON array of Envelope values sent in one WebSocket text frame.
type Envelope struct {
	Method MethodType    `json:"method"`
	Params PublishParams `json:"params"`
}

// PublishParams covers the fields used by every method this stub supports;
// unused fields are simply omitted by the encoder for a given method.
type PublishParams struct {
	Name       string                 `json:"name,omitempty"`
	Type       string                 `json:"type,omitempty"`
	PubUID     int                    `json:"pubuid,omitempty"`
	SubUID     int                    `json:"subuid,omitempty"`
	Topics     []string               `json:"topics,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	ID         int                    `json:"id,omitempty"`
}
