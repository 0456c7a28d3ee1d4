// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package fanout

import "testing"

func TestFireInvokesInRegistrationOrder(t *testing.T) {
	r := NewRegistry()

	var order []int
	r.On(Add, func(Event) { order = append(order, 1) })
	r.On(Add, func(Event) { order = append(order, 2) })
	r.On(Add, func(Event) { order = append(order, 3) })

	r.Fire(Event{Kind: Add})

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestFireOnlyInvokesMatchingKind(t *testing.T) {
	r := NewRegistry()

	var addFired, deleteFired bool
	r.On(Add, func(Event) { addFired = true })
	r.On(Delete, func(Event) { deleteFired = true })

	r.Fire(Event{Kind: Add})

	if !addFired || deleteFired {
		t.Fatalf("addFired=%v deleteFired=%v, want true/false", addFired, deleteFired)
	}
}

func TestCallbackMayRegisterMoreCallbacksWithoutDeadlock(t *testing.T) {
	r := NewRegistry()

	called := false
	r.On(Add, func(Event) {
		r.On(Add, func(Event) { called = true })
	})

	r.Fire(Event{Kind: Add}) // registers the second callback
	r.Fire(Event{Kind: Add}) // invokes it

	if !called {
		t.Fatal("callback registered during Fire was never invoked")
	}
}
