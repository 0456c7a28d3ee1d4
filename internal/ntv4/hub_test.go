// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntv4

import (
	"testing"

	"github.com/sandia-minimega/networktables/internal/directory"
	"github.com/sandia-minimega/networktables/internal/fanout"
)

func TestHubPublishCreatesTopicOnce(t *testing.T) {
	dir := directory.New()
	fan := fanout.NewRegistry()
	h := NewHub(dir, fan)

	var added int
	fan.On(fanout.Add, func(fanout.Event) { added++ })

	h.handle(Envelope{Method: MethodPublish, Params: PublishParams{Name: "/x", Type: "double"}})
	h.handle(Envelope{Method: MethodPublish, Params: PublishParams{Name: "/x", Type: "double"}})

	if added != 1 {
		t.Fatalf("Add fired %d times, want 1 (second publish of the same name must be a no-op)", added)
	}
	if _, ok := dir.GetByName("/x"); !ok {
		t.Fatal("topic /x not present in directory after publish")
	}
}

func TestHubPublishUnknownTypeIgnored(t *testing.T) {
	dir := directory.New()
	h := NewHub(dir, fanout.NewRegistry())

	h.handle(Envelope{Method: MethodPublish, Params: PublishParams{Name: "/y", Type: "not-a-type"}})

	if _, ok := dir.GetByName("/y"); ok {
		t.Fatal("topic with unrecognized type should not be inserted")
	}
}

func TestHubUnpublishRemovesTopic(t *testing.T) {
	dir := directory.New()
	fan := fanout.NewRegistry()
	h := NewHub(dir, fan)

	var deleted int
	fan.On(fanout.Delete, func(fanout.Event) { deleted++ })

	h.handle(Envelope{Method: MethodPublish, Params: PublishParams{Name: "/z", Type: "boolean"}})
	h.handle(Envelope{Method: MethodUnpublish, Params: PublishParams{Name: "/z"}})

	if _, ok := dir.GetByName("/z"); ok {
		t.Fatal("topic should be gone after unpublish")
	}
	if deleted != 1 {
		t.Fatalf("Delete fired %d times, want 1", deleted)
	}
}

func TestTypeNameRoundTrip(t *testing.T) {
	for _, typ := range topicType {
		if got := topicType[typeName(typ)]; got != typ {
			t.Errorf("typeName(%v) = %q, which does not map back to %v", typ, typeName(typ), typ)
		}
	}
}
