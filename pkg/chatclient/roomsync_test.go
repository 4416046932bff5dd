package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBackend delegates to per-test function fields. Unset fields return
// empty results.
type fakeBackend struct {
	history   func(ctx context.Context, room string, limit int) ([]Message, error)
	send      func(ctx context.Context, room, handle, text string) (Message, error)
	dmHistory func(ctx context.Context, me, with string, limit int) ([]DmMessage, error)
	dmSend    func(ctx context.Context, from, to, text string) (DmMessage, error)
}

func (f *fakeBackend) History(ctx context.Context, room string, limit int) ([]Message, error) {
	if f.history == nil {
		return nil, nil
	}
	return f.history(ctx, room, limit)
}

func (f *fakeBackend) Send(ctx context.Context, room, handle, text string) (Message, error) {
	if f.send == nil {
		return Message{}, nil
	}
	return f.send(ctx, room, handle, text)
}

func (f *fakeBackend) DmHistory(ctx context.Context, me, with string, limit int) ([]DmMessage, error) {
	if f.dmHistory == nil {
		return nil, nil
	}
	return f.dmHistory(ctx, me, with, limit)
}

func (f *fakeBackend) DmSend(ctx context.Context, from, to, text string) (DmMessage, error) {
	if f.dmSend == nil {
		return DmMessage{}, nil
	}
	return f.dmSend(ctx, from, to, text)
}

type fakeViewport struct{ atBottom bool }

func (v *fakeViewport) AtBottom() bool { return v.atBottom }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func msg(id, text string) Message {
	return Message{Id: id, Room: "general", Handle: "peer", Text: text}
}

func TestRoomSyncImmediateFetchOnSwitch(t *testing.T) {
	calls := make(chan string, 4)
	backend := &fakeBackend{
		history: func(_ context.Context, room string, _ int) ([]Message, error) {
			calls <- room
			return []Message{msg("1", "hi")}, nil
		},
	}
	s := NewRoomSync(backend, "me", WithInterval(time.Hour))
	defer s.Stop()

	s.Switch("general")
	select {
	case room := <-calls:
		if room != "general" {
			t.Fatalf("fetched room %q, want general", room)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch after switch")
	}
	waitFor(t, "snapshot applied", func() bool { return len(s.Messages()) == 1 })
}

func TestRoomSyncStaleResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	backend := &fakeBackend{
		history: func(_ context.Context, room string, _ int) ([]Message, error) {
			if room == "alpha" {
				close(started)
				<-release // slow response, outlives the room switch
				return []Message{{Id: "a1", Room: "alpha", Text: "old"}}, nil
			}
			return []Message{{Id: "b1", Room: "beta", Text: "new"}}, nil
		},
	}
	s := NewRoomSync(backend, "me", WithInterval(time.Hour))
	defer s.Stop()

	s.Switch("alpha")
	<-started
	s.Switch("beta")
	waitFor(t, "beta snapshot", func() bool { return len(s.Messages()) == 1 })

	close(release)
	time.Sleep(50 * time.Millisecond)
	got := s.Messages()
	if len(got) != 1 || got[0].Id != "b1" {
		t.Fatalf("stale alpha response overwrote state: %+v", got)
	}
}

func TestRoomSyncSwitchStopsOldRoomPolls(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[string]int)
	backend := &fakeBackend{
		history: func(_ context.Context, room string, _ int) ([]Message, error) {
			mu.Lock()
			calls[room]++
			mu.Unlock()
			return nil, nil
		},
	}
	s := NewRoomSync(backend, "me", WithInterval(10*time.Millisecond))
	defer s.Stop()

	s.Switch("alpha")
	waitFor(t, "alpha polls", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["alpha"] >= 2
	})

	s.Switch("beta")
	waitFor(t, "beta polls", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["beta"] >= 1
	})
	time.Sleep(30 * time.Millisecond) // let a poll that raced the switch drain
	mu.Lock()
	alphaAtSwitch := calls["alpha"]
	mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls["alpha"] > alphaAtSwitch {
		t.Fatalf("old room polled %d more times after switch", calls["alpha"]-alphaAtSwitch)
	}
}

func TestRoomSyncSwitchDiscardsState(t *testing.T) {
	s := NewRoomSync(&fakeBackend{}, "me", WithInterval(time.Hour))
	s.mu.Lock()
	s.messages = []Message{msg("1", "hi")}
	s.pending = []Message{msg("2", "mine")}
	s.boundary = 1
	s.mu.Unlock()

	s.Switch("helpdesk")
	defer s.Stop()

	if n := len(s.Messages()); n != 0 {
		t.Fatalf("messages survived switch: %d", n)
	}
	if b := s.UnreadBoundary(); b != -1 {
		t.Fatalf("boundary survived switch: %d", b)
	}
}

func TestRoomSyncSnapshotDedupesOptimisticSend(t *testing.T) {
	s := NewRoomSync(&fakeBackend{}, "me")
	s.mu.Lock()
	gen := s.gen
	s.pending = []Message{{Id: "x", Text: "mine"}}
	s.mu.Unlock()

	s.apply(gen, []Message{msg("1", "hi"), {Id: "x", Text: "mine"}})

	got := s.Messages()
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(got), got)
	}
	for i, m := range got {
		for j, other := range got {
			if i != j && m.Id == other.Id {
				t.Fatalf("duplicate id %q after snapshot merge", m.Id)
			}
		}
	}
}

func TestRoomSyncUnechoedSendSurvivesSnapshot(t *testing.T) {
	s := NewRoomSync(&fakeBackend{}, "me")
	s.mu.Lock()
	gen := s.gen
	s.pending = []Message{{Id: "x", Text: "mine"}}
	s.mu.Unlock()

	s.apply(gen, []Message{msg("1", "hi")})

	got := s.Messages()
	if len(got) != 2 || got[1].Id != "x" {
		t.Fatalf("optimistic send dropped before the store echoed it: %+v", got)
	}
}

func TestRoomSyncUnreadBoundary(t *testing.T) {
	vp := &fakeViewport{atBottom: true}
	s := NewRoomSync(&fakeBackend{}, "me", WithViewport(vp))
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	s.apply(gen, []Message{msg("1", "a")})
	if b := s.UnreadBoundary(); b != -1 {
		t.Fatalf("boundary set while at bottom: %d", b)
	}

	vp.atBottom = false
	s.apply(gen, []Message{msg("1", "a"), msg("2", "b")})
	if b := s.UnreadBoundary(); b != 1 {
		t.Fatalf("boundary = %d, want 1", b)
	}

	// further growth keeps the earliest boundary
	s.apply(gen, []Message{msg("1", "a"), msg("2", "b"), msg("3", "c")})
	if b := s.UnreadBoundary(); b != 1 {
		t.Fatalf("boundary moved to %d, want 1", b)
	}

	s.MarkRead()
	if b := s.UnreadBoundary(); b != -1 {
		t.Fatalf("boundary = %d after MarkRead, want -1", b)
	}

	// returning to the bottom keeps it clear on the next snapshot
	vp.atBottom = true
	s.apply(gen, []Message{msg("1", "a"), msg("2", "b"), msg("3", "c"), msg("4", "d")})
	if b := s.UnreadBoundary(); b != -1 {
		t.Fatalf("boundary = %d while at bottom, want -1", b)
	}
}

func TestRoomSyncSendValidation(t *testing.T) {
	var sent string
	backend := &fakeBackend{
		send: func(_ context.Context, _, _, text string) (Message, error) {
			sent = text
			return Message{Id: "s1", Text: text}, nil
		},
	}
	s := NewRoomSync(backend, "me")
	s.mu.Lock()
	s.room = "general"
	s.mu.Unlock()

	if err := s.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("whitespace-only send: err = %v, want ErrEmptyText", err)
	}
	if sent != "" {
		t.Fatal("backend called for empty text")
	}

	long := strings.Repeat("y", MaxTextLen+50)
	if err := s.Send(context.Background(), long); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len([]rune(sent)) != MaxTextLen {
		t.Fatalf("sent %d runes, want %d", len([]rune(sent)), MaxTextLen)
	}
	if got := s.Messages(); len(got) != 1 || got[0].Id != "s1" {
		t.Fatalf("canonical record not appended: %+v", got)
	}
}

func TestRoomSyncSendFailureLeavesStateUntouched(t *testing.T) {
	backend := &fakeBackend{
		send: func(context.Context, string, string, string) (Message, error) {
			return Message{}, errors.New("store unavailable")
		},
	}
	s := NewRoomSync(backend, "me")
	s.mu.Lock()
	s.room = "general"
	s.mu.Unlock()

	if err := s.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected send error")
	}
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("failed send appended %d messages", n)
	}
}

func TestRoomSyncPollFailureKeepsLooping(t *testing.T) {
	var calls int
	errs := make(chan error, 8)
	backend := &fakeBackend{
		history: func(context.Context, string, int) ([]Message, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("transient")
			}
			return []Message{msg("1", "recovered")}, nil
		},
	}
	s := NewRoomSync(backend, "me",
		WithInterval(10*time.Millisecond),
		WithOnError(func(err error) { errs <- err }))
	defer s.Stop()

	s.Switch("general")
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("poll failure not surfaced")
	}
	waitFor(t, "recovery after failed poll", func() bool { return len(s.Messages()) == 1 })
}
