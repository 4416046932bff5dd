package main

import (
	"reflect"
	"testing"
	"time"
)

// fakeClock drives the store's notion of now without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(ttl time.Duration) (*typingStore, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newTypingStore(ttl)
	s.now = clock.now
	return s, clock
}

func TestTypingStore_ExpiresAfterTTL(t *testing.T) {
	s, clock := newTestStore(5 * time.Second)

	s.announce("general", "alice")

	clock.advance(5*time.Second - time.Millisecond)
	if got := s.active("general"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("before TTL: got %v, want [alice]", got)
	}

	clock.advance(2 * time.Millisecond)
	if got := s.active("general"); got != nil {
		t.Fatalf("after TTL: got %v, want nil", got)
	}
}

func TestTypingStore_ReannounceResetsExpiry(t *testing.T) {
	s, clock := newTestStore(4 * time.Second)

	s.announce("general", "alice")
	clock.advance(2 * time.Second)
	s.announce("general", "alice")

	// 3s after the second announce: original expiry has passed, refreshed one has not.
	clock.advance(3 * time.Second)
	if got := s.active("general"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("got %v, want [alice] after refresh", got)
	}

	clock.advance(2 * time.Second)
	if got := s.active("general"); got != nil {
		t.Fatalf("got %v, want nil after refreshed expiry", got)
	}
}

func TestTypingStore_ActiveIsIdempotent(t *testing.T) {
	s, clock := newTestStore(5 * time.Second)

	s.announce("general", "alice")
	s.announce("general", "bob")
	clock.advance(time.Second)

	first := s.active("general")
	second := s.active("general")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("consecutive reads differ: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(first, []string{"alice", "bob"}) {
		t.Fatalf("got %v, want [alice bob]", first)
	}
}

func TestTypingStore_NoDuplicateEntries(t *testing.T) {
	s, _ := newTestStore(5 * time.Second)

	for i := 0; i < 10; i++ {
		s.announce("general", "alice")
	}
	if got := s.active("general"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("got %v, want a single [alice]", got)
	}
}

func TestTypingStore_EmptyRoomBucketRemoved(t *testing.T) {
	s, clock := newTestStore(5 * time.Second)

	s.announce("general", "alice")
	if s.roomCount() != 1 {
		t.Fatalf("roomCount = %d, want 1", s.roomCount())
	}

	clock.advance(6 * time.Second)
	if got := s.active("general"); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if s.roomCount() != 0 {
		t.Fatalf("roomCount = %d after full expiry, want 0", s.roomCount())
	}
}

func TestTypingStore_RoomsAreIndependent(t *testing.T) {
	s, clock := newTestStore(5 * time.Second)

	s.announce("general", "alice")
	clock.advance(3 * time.Second)
	s.announce("helpdesk", "bob")
	clock.advance(3 * time.Second)

	// alice expired, bob has not; evicting general must not touch helpdesk.
	if got := s.active("general"); got != nil {
		t.Fatalf("general: got %v, want nil", got)
	}
	if got := s.active("helpdesk"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("helpdesk: got %v, want [bob]", got)
	}
}

func TestTypingStore_PartialEviction(t *testing.T) {
	s, clock := newTestStore(5 * time.Second)

	s.announce("general", "alice")
	clock.advance(3 * time.Second)
	s.announce("general", "bob")
	clock.advance(3 * time.Second)

	if got := s.active("general"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("got %v, want [bob] with alice evicted", got)
	}
	if s.roomCount() != 1 {
		t.Fatalf("roomCount = %d, want 1 while bob remains", s.roomCount())
	}
}

func TestTypingStore_ConcurrentAnnounceAndRead(t *testing.T) {
	s, _ := newTestStore(5 * time.Second)

	done := make(chan bool)
	for i := 0; i < 8; i++ {
		room := "general"
		if i%2 == 0 {
			room = "validators"
		}
		go func(room string) {
			for j := 0; j < 200; j++ {
				s.announce(room, "user")
				s.active(room)
			}
			done <- true
		}(room)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
