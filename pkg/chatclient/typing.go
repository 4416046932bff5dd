package chatclient

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// typingHold is how long a peer stays in the typing set after their
	// last broadcast event, measured on the receiver's clock.
	typingHold = 3 * time.Second
	// announceGap throttles outgoing typing events to one per window.
	announceGap = 900 * time.Millisecond
)

type typingEvent struct {
	Handle string `json:"handle"`
}

// TypingBroadcaster publishes typing events for the local user. Calls are
// throttled: at most one event per announceGap window goes on the wire, so
// hammering the keyboard does not flood the bus. Publish failures are
// dropped; typing hints are best-effort.
type TypingBroadcaster struct {
	nc     *nats.Conn
	handle string
	gap    time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewTypingBroadcaster(nc *nats.Conn, handle string) *TypingBroadcaster {
	return &TypingBroadcaster{nc: nc, handle: handle, gap: announceGap, now: time.Now}
}

// Announce signals that the local user is typing in room. Returns true when
// an event was actually published, false when throttled.
func (b *TypingBroadcaster) Announce(room string) bool {
	if !b.allow() {
		return false
	}
	data, _ := json.Marshal(typingEvent{Handle: b.handle})
	_ = b.nc.Publish("typing.event."+room, data)
	return true
}

func (b *TypingBroadcaster) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Sub(b.last) < b.gap {
		return false
	}
	b.last = now
	return true
}

// TypingWatcher tracks which peers are typing in the attached room. Each
// incoming event (re)starts a per-handle expiry timer; when it fires the
// handle leaves the set. Events for the watcher's own handle are ignored.
// Timers reset rather than stack: a burst of events from one peer holds a
// single timer open.
type TypingWatcher struct {
	self     string
	hold     time.Duration
	onChange func([]string)

	// schedule runs fn after d and returns a cancel func. Swapped out in
	// tests to drive expiry deterministically.
	schedule func(d time.Duration, fn func()) func()

	mu     sync.Mutex
	timers map[string]*typingEntry
	sub    *nats.Subscription
}

// typingEntry ties an active handle to the timer that will expire it. expire
// compares entry identity before deleting: a timer whose callback was
// already in flight when the handle re-announced cannot be cancelled, and
// must not evict the entry its replacement now owns.
type typingEntry struct {
	cancel func()
}

func NewTypingWatcher(self string, onChange func([]string)) *TypingWatcher {
	return &TypingWatcher{
		self:     self,
		hold:     typingHold,
		onChange: onChange,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
		timers: make(map[string]*typingEntry),
	}
}

// Attach subscribes the watcher to room's typing events, detaching from any
// previous room first.
func (w *TypingWatcher) Attach(nc *nats.Conn, room string) error {
	w.Detach()
	sub, err := nc.Subscribe("typing.event."+room, func(msg *nats.Msg) {
		var ev typingEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Handle == "" {
			return
		}
		w.Observe(ev.Handle)
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	return nil
}

// Detach unsubscribes, cancels every pending expiry timer and empties the
// typing set.
func (w *TypingWatcher) Detach() {
	w.mu.Lock()
	if w.sub != nil {
		_ = w.sub.Unsubscribe()
		w.sub = nil
	}
	changed := len(w.timers) > 0
	for handle, entry := range w.timers {
		entry.cancel()
		delete(w.timers, handle)
	}
	w.mu.Unlock()
	if changed {
		w.notify()
	}
}

// Observe feeds one typing event into the set. Exported so transports other
// than the built-in subscription can drive the watcher.
func (w *TypingWatcher) Observe(handle string) {
	if handle == w.self {
		return
	}
	w.mu.Lock()
	prev, existed := w.timers[handle]
	if existed {
		prev.cancel()
	}
	entry := &typingEntry{}
	entry.cancel = w.schedule(w.hold, func() { w.expire(handle, entry) })
	w.timers[handle] = entry
	w.mu.Unlock()
	if !existed {
		w.notify()
	}
}

func (w *TypingWatcher) expire(handle string, entry *typingEntry) {
	w.mu.Lock()
	cur, ok := w.timers[handle]
	fired := ok && cur == entry
	if fired {
		delete(w.timers, handle)
	}
	w.mu.Unlock()
	if fired {
		w.notify()
	}
}

// Active returns the handles currently typing, sorted for stable rendering.
func (w *TypingWatcher) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.timers) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.timers))
	for handle := range w.timers {
		out = append(out, handle)
	}
	sort.Strings(out)
	return out
}

func (w *TypingWatcher) notify() {
	if w.onChange != nil {
		w.onChange(w.Active())
	}
}
