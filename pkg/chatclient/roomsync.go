package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrEmptyText is returned by Send when the text is empty after trimming.
var ErrEmptyText = errors.New("chatclient: empty message text")

// Viewport reports whether the reader is pinned to the newest message. The
// zero implementation (nil) behaves as always-at-bottom.
type Viewport interface {
	AtBottom() bool
}

// RoomSync polls room history on a fixed interval and exposes the merged
// message sequence. At most one poll loop runs at a time: switching rooms
// cancels the previous loop, discards its state and starts a fresh loop
// with an immediate fetch. A poll that resolves after a switch is discarded
// by a generation check, so a slow response for the old room can never
// overwrite the new room's state.
type RoomSync struct {
	backend  Backend
	viewport Viewport
	interval time.Duration
	limit    int
	handle   string

	onUpdate func()
	onError  func(error)

	mu       sync.Mutex
	room     string
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	messages []Message
	pending  []Message // optimistic sends not yet seen in a snapshot
	boundary int       // index of first unread message, -1 when none
}

// RoomSyncOption configures a RoomSync.
type RoomSyncOption func(*RoomSync)

// WithInterval overrides the poll cadence.
func WithInterval(d time.Duration) RoomSyncOption {
	return func(s *RoomSync) { s.interval = d }
}

// WithLimit overrides the per-poll history window size.
func WithLimit(n int) RoomSyncOption {
	return func(s *RoomSync) { s.limit = n }
}

// WithViewport wires scroll-position awareness for unread tracking.
func WithViewport(v Viewport) RoomSyncOption {
	return func(s *RoomSync) { s.viewport = v }
}

// WithOnUpdate registers a callback fired after every state change. It is
// invoked without the internal lock held.
func WithOnUpdate(fn func()) RoomSyncOption {
	return func(s *RoomSync) { s.onUpdate = fn }
}

// WithOnError registers a callback for failed polls. Failures never stop
// the loop; the next tick retries.
func WithOnError(fn func(error)) RoomSyncOption {
	return func(s *RoomSync) { s.onError = fn }
}

func NewRoomSync(backend Backend, handle string, opts ...RoomSyncOption) *RoomSync {
	s := &RoomSync{
		backend:  backend,
		handle:   handle,
		interval: RoomPollInterval,
		limit:    defaultPollLimit,
		boundary: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Switch makes room the active room. Any previous loop is cancelled and its
// state discarded before the new loop starts with an immediate fetch.
func (s *RoomSync) Switch(room string) {
	s.mu.Lock()
	s.stopLocked()
	s.room = room
	s.gen++
	s.messages = nil
	s.pending = nil
	s.boundary = -1
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go s.loop(ctx, room, gen, done)
	s.notify()
}

// Stop cancels the active poll loop, if any, and waits for it to exit.
func (s *RoomSync) Stop() {
	s.mu.Lock()
	done := s.done
	s.stopLocked()
	s.gen++
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *RoomSync) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.done = nil
	}
}

// Room returns the currently active room, or "" before the first Switch.
func (s *RoomSync) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Messages returns the current merged sequence: the latest authoritative
// snapshot followed by optimistic sends the store has not echoed back yet.
func (s *RoomSync) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages)+len(s.pending))
	out = append(out, s.messages...)
	out = append(out, s.pending...)
	return out
}

// UnreadBoundary returns the index of the first message that arrived while
// the reader was scrolled away from the bottom, or -1 when everything has
// been seen.
func (s *RoomSync) UnreadBoundary() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundary
}

// MarkRead clears the unread boundary. Callers invoke it when the reader
// returns to the bottom of the room.
func (s *RoomSync) MarkRead() {
	s.mu.Lock()
	s.boundary = -1
	s.mu.Unlock()
}

// Send validates and submits text to the active room. The trimmed text must
// be non-empty; anything beyond MaxTextLen is truncated before submission,
// matching the store's own cap. On success the canonical record is appended
// locally so it renders before the next poll echoes it back. On failure
// nothing is appended and the caller keeps the draft.
func (s *RoomSync) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyText
	}
	if r := []rune(trimmed); len(r) > MaxTextLen {
		trimmed = string(r[:MaxTextLen])
	}

	s.mu.Lock()
	room := s.room
	gen := s.gen
	s.mu.Unlock()

	item, err := s.backend.Send(ctx, room, s.handle, trimmed)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen == s.gen {
		s.pending = append(s.pending, item)
		s.boundary = -1 // sending implies the reader is at the bottom
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *RoomSync) loop(ctx context.Context, room string, gen uint64, done chan struct{}) {
	defer close(done)
	s.poll(ctx, room, gen)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, room, gen)
		}
	}
}

func (s *RoomSync) poll(ctx context.Context, room string, gen uint64) {
	items, err := s.backend.History(ctx, room, s.limit)
	if err != nil {
		if ctx.Err() == nil && s.onError != nil {
			s.onError(err)
		}
		return
	}
	if s.apply(gen, items) {
		s.notify()
	}
}

// apply installs an authoritative snapshot. The snapshot replaces the local
// sequence wholesale after de-duplicating optimistic sends by id, so a send
// echoed back by the store never renders twice. Returns false when the
// response is stale (the room changed while the fetch was in flight).
func (s *RoomSync) apply(gen uint64, items []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}

	oldLen := len(s.messages) + len(s.pending)

	seen := make(map[string]bool, len(items))
	for _, m := range items {
		seen[m.Id] = true
	}
	kept := s.pending[:0]
	for _, m := range s.pending {
		if !seen[m.Id] {
			kept = append(kept, m)
		}
	}
	s.pending = kept

	atBottom := s.viewport == nil || s.viewport.AtBottom()
	if atBottom {
		s.boundary = -1
	} else if len(items)+len(s.pending) > oldLen && s.boundary == -1 {
		s.boundary = oldLen
	}

	s.messages = items
	return true
}

func (s *RoomSync) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
