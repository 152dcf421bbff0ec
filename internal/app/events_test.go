package app

import (
	"slices"
	"testing"
)

func TestBus_OrderAndUnsubscribe(t *testing.T) {
	var b Bus
	var got []string
	unsubA := b.Subscribe(func(n Notification) { got = append(got, "a:"+n.Kind()) })
	b.Subscribe(func(n Notification) { got = append(got, "b:"+n.Kind()) })

	b.publish(TrackRemoved{TrackID: "x"})
	unsubA()
	unsubA()
	b.publish(Disconnected{})

	want := []string{"a:track_removed", "b:track_removed", "b:disconnected"}
	if !slices.Equal(got, want) {
		t.Fatalf("got=%v, want %v", got, want)
	}
}

func TestNegotiationGuard(t *testing.T) {
	var g negotiationGuard
	release, ok := g.tryAcquire()
	if !ok {
		t.Fatalf("first acquire failed")
	}
	if _, ok := g.tryAcquire(); ok {
		t.Fatalf("second acquire succeeded while held")
	}
	release()
	release()
	if g.held() {
		t.Fatalf("guard still held after release")
	}
	again, ok := g.tryAcquire()
	if !ok {
		t.Fatalf("acquire after release failed")
	}
	// A stale release must not free a guard someone else holds.
	release()
	if !g.held() {
		t.Fatalf("stale release freed the guard")
	}
	again()
}
