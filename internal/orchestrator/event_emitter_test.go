package orchestrator

import (
	"testing"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

func TestEventEmitter_DropsWhenFull(t *testing.T) {
	em := NewEventEmitter(1)
	if !em.Emit(models.GraphEvent{Seq: 1}) {
		t.Fatal("first event should be buffered")
	}
	if em.Emit(models.GraphEvent{Seq: 2}) {
		t.Fatal("second event should be dropped with nobody draining")
	}
	if got := em.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
	if e := <-em.Events(); e.Seq != 1 {
		t.Errorf("received Seq %d, want 1", e.Seq)
	}
}

func TestSubscriberHub_FanOut(t *testing.T) {
	drops := 0
	h := newSubscriberHub(func() { drops++ })

	a, unsubA := h.subscribe("s1", 4)
	b, unsubB := h.subscribe("s1", 4)
	other, unsubOther := h.subscribe("s2", 4)
	defer unsubB()
	defer unsubOther()

	if n := h.count("s1"); n != 2 {
		t.Fatalf("count(s1) = %d, want 2", n)
	}

	h.publish("s1", models.GraphEvent{Seq: 7, Type: models.EventSystem})
	for name, em := range map[string]*EventEmitter{"a": a, "b": b} {
		if e := <-em.Events(); e.Seq != 7 {
			t.Errorf("subscriber %s got Seq %d", name, e.Seq)
		}
	}
	if len(other.Events()) != 0 {
		t.Error("events must not cross sessions")
	}

	unsubA()
	unsubA()
	if n := h.count("s1"); n != 1 {
		t.Errorf("count(s1) after unsubscribe = %d, want 1", n)
	}
	if _, ok := <-a.Events(); ok {
		t.Error("unsubscribed channel should be closed")
	}

	// A full subscriber is reported as a drop.
	h.publish("s1", models.GraphEvent{Seq: 8})
	h.publish("s1", models.GraphEvent{Seq: 9})
	h.publish("s1", models.GraphEvent{Seq: 10})
	h.publish("s1", models.GraphEvent{Seq: 11})
	h.publish("s1", models.GraphEvent{Seq: 12})
	if drops != 1 {
		t.Errorf("drops = %d, want 1", drops)
	}
}
