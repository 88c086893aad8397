package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
)

type fakeClient struct {
	mu  sync.Mutex
	got [][]byte
}

func (c *fakeClient) Send(b []byte) {
	c.mu.Lock()
	c.got = append(c.got, b)
	c.mu.Unlock()
}

func TestBroadcastReachesOnlyTopicSubscribers(t *testing.T) {
	hs := NewHubs()
	a, b := &fakeClient{}, &fakeClient{}
	hs.GetOrCreate("D1").AddClient(a)
	hs.GetOrCreate("D2").AddClient(b)

	if err := hs.Send(context.Background(), domain.LocationUpdate{DeliveryID: "D1"}, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(a.got) != 1 || string(a.got[0]) != `{"n":1}` {
		t.Fatalf("D1 subscriber got %q", a.got)
	}
	if len(b.got) != 0 {
		t.Fatalf("D2 subscriber got %d messages", len(b.got))
	}
}

func TestLastIsKeptForLateJoiners(t *testing.T) {
	hs := NewHubs()
	h := hs.GetOrCreate("D1")
	if h.Last() != nil {
		t.Fatal("new hub has a last message")
	}

	h.Broadcast([]byte("one"))
	h.Broadcast([]byte("two"))
	if got := string(h.Last()); got != "two" {
		t.Fatalf("Last = %q, want two", got)
	}

	if got, ok := hs.Get("D1"); !ok || got != h {
		t.Fatal("Get did not return the existing hub")
	}
	if _, ok := hs.Get("D9"); ok {
		t.Fatal("Get created a hub")
	}
	if hs.GetOrCreate("D1").Topic != "/topic/delivery/D1/location" {
		t.Fatalf("topic = %q", h.Topic)
	}
}

func TestRemoveClientStopsDelivery(t *testing.T) {
	h := NewHub("D1")
	c := &fakeClient{}
	h.AddClient(c)
	h.Broadcast([]byte("a"))
	h.RemoveClient(c)
	h.Broadcast([]byte("b"))

	if len(c.got) != 1 {
		t.Fatalf("client got %d messages, want 1", len(c.got))
	}
	if h.Len() != 0 {
		t.Fatalf("hub still has %d clients", h.Len())
	}
}

func TestWSClientSendDropsWhenQueueFull(t *testing.T) {
	c := NewWSClient(nil)
	h := NewHub("D1")
	h.AddClient(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Broadcast([]byte(`{}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a subscriber that is not reading")
	}
	if got := len(c.out); got != sendQueue {
		t.Fatalf("queued %d messages, want %d", got, sendQueue)
	}
}
