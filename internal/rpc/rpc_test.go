// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package rpc

import (
	"sync"
	"testing"
	"time"

	"github.com/sandia-minimega/networktables/internal/wire"
)

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func TestInvokeAsyncRoundTrip(t *testing.T) {
	// Scenario S5: server registers RPC at id=7 with a reversing handler;
	// client calls with [1,2,3] and gets [3,2,1] via its callback exactly
	// once.
	srv := NewServer()
	srv.Register(7, reverse)

	var (
		mu       sync.Mutex
		got      []byte
		calls    int
		done     = make(chan struct{})
	)

	srv.InvokeAsync(7, []byte{1, 2, 3}, func(result []byte) {
		mu.Lock()
		got = result
		calls++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never responded")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("respond called %d times, want 1", calls)
	}
	want := []byte{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestInvokeAsyncPanicYieldsEmptyResult(t *testing.T) {
	srv := NewServer()
	srv.Register(1, func([]byte) []byte { panic("boom") })

	done := make(chan []byte, 1)
	srv.InvokeAsync(1, nil, func(result []byte) { done <- result })

	select {
	case result := <-done:
		if result != nil {
			t.Fatalf("got %v, want nil result after panic", result)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never responded after panicking")
	}
}

func TestInvokeAsyncMissingHandlerYieldsEmptyResult(t *testing.T) {
	srv := NewServer()

	done := make(chan []byte, 1)
	srv.InvokeAsync(42, nil, func(result []byte) { done <- result })

	select {
	case result := <-done:
		if result != nil {
			t.Fatalf("got %v, want nil result for unregistered id", result)
		}
	case <-time.After(time.Second):
		t.Fatal("respond was never called for a missing handler")
	}
}

func TestClientCallResolvedExactlyOnce(t *testing.T) {
	c := NewClient()

	var calls int
	uid := c.Call(7, func([]byte) { calls++ })

	if !c.Resolve(7, uid, []byte("ok")) {
		t.Fatal("Resolve did not find the registered callback")
	}
	if calls != 1 {
		t.Fatalf("callback invoked %d times, want 1", calls)
	}

	// A second response for the same (id, uniqueID) must be discarded.
	if c.Resolve(7, uid, []byte("again")) {
		t.Fatal("Resolve matched an already-resolved call")
	}
	if calls != 1 {
		t.Fatalf("callback invoked %d times after duplicate response, want 1", calls)
	}
}

func TestClientResolveUnissuedIDDiscarded(t *testing.T) {
	c := NewClient()
	if c.Resolve(99, 12345, []byte("x")) {
		t.Fatal("Resolve matched an id/uniqueID that was never issued")
	}
}

func TestStructuredRPCRoundTrip(t *testing.T) {
	def := &wire.RPCDefinition{
		Version: wire.RPCVersionStructured,
		Name:    "add",
		Parameters: []wire.RPCParam{
			{Type: wire.TypeDouble, Name: "a", Default: wire.DoubleValue(0)},
			{Type: wire.TypeDouble, Name: "b", Default: wire.DoubleValue(0)},
		},
		Results: []wire.RPCResult{{Type: wire.TypeDouble, Name: "sum"}},
	}

	if err := ValidateDefinition(def); err != nil {
		t.Fatalf("ValidateDefinition: %v", err)
	}

	raw, err := EncodeParams(def, []wire.Value{wire.DoubleValue(2), wire.DoubleValue(3)})
	if err != nil {
		t.Fatalf("EncodeParams: %v", err)
	}

	args, err := DecodeParams(def, raw)
	if err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}
	if len(args) != 2 || args[0].Double != 2 || args[1].Double != 3 {
		t.Fatalf("got %+v, want [2 3]", args)
	}

	resultBytes, err := EncodeResults(def, []wire.Value{wire.DoubleValue(5)})
	if err != nil {
		t.Fatalf("EncodeResults: %v", err)
	}
	results, err := DecodeResults(def, resultBytes)
	if err != nil {
		t.Fatalf("DecodeResults: %v", err)
	}
	if len(results) != 1 || results[0].Double != 5 {
		t.Fatalf("got %+v, want [5]", results)
	}
}

func TestDecodeParamsTruncatedPayloadIsMalformed(t *testing.T) {
	def := &wire.RPCDefinition{
		Version:    wire.RPCVersionStructured,
		Parameters: []wire.RPCParam{{Type: wire.TypeDouble, Name: "a"}},
	}

	_, err := DecodeParams(def, []byte{0, 1}) // too short for a float64
	if err == nil {
		t.Fatal("expected malformed rpc error for truncated payload")
	}
	if _, ok := err.(*ErrMalformedRpc); !ok {
		t.Fatalf("got %T, want *ErrMalformedRpc", err)
	}
}

func TestValidateDefinitionRejectsUnknownParamType(t *testing.T) {
	def := &wire.RPCDefinition{
		Version:    wire.RPCVersionStructured,
		Parameters: []wire.RPCParam{{Type: wire.EntryType(0x99), Name: "bad"}},
	}
	if err := ValidateDefinition(def); err == nil {
		t.Fatal("expected malformed definition error")
	}
}
