package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"
)

const maxDmTextLen = 1000

// DMSync polls one direct-message thread on a fixed interval. Each poll
// replaces the local sequence wholesale with the store's ordered snapshot.
// Opening a different peer cancels the previous loop and discards its
// state; closing the panel does the same.
type DMSync struct {
	backend  Backend
	me       string
	interval time.Duration
	limit    int
	onUpdate func()
	onError  func(error)

	mu       sync.Mutex
	peer     string
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	messages []DmMessage
}

// DMSyncOption configures a DMSync.
type DMSyncOption func(*DMSync)

func WithDmInterval(d time.Duration) DMSyncOption {
	return func(d2 *DMSync) { d2.interval = d }
}

func WithDmLimit(n int) DMSyncOption {
	return func(d *DMSync) { d.limit = n }
}

func WithDmOnUpdate(fn func()) DMSyncOption {
	return func(d *DMSync) { d.onUpdate = fn }
}

func WithDmOnError(fn func(error)) DMSyncOption {
	return func(d *DMSync) { d.onError = fn }
}

func NewDMSync(backend Backend, me string, opts ...DMSyncOption) *DMSync {
	d := &DMSync{
		backend:  backend,
		me:       me,
		interval: DmPollInterval,
		limit:    defaultPollLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open starts syncing the thread with peer, replacing any previous thread.
func (d *DMSync) Open(peer string) {
	d.mu.Lock()
	d.stopLocked()
	d.peer = peer
	d.gen++
	d.messages = nil
	gen := d.gen
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	done := make(chan struct{})
	d.done = done
	d.mu.Unlock()

	go d.loop(ctx, peer, gen, done)
	d.notify()
}

// Close stops the poll loop and discards the thread state. Reopening the
// same peer later starts from an empty sequence and a fresh fetch.
func (d *DMSync) Close() {
	d.mu.Lock()
	done := d.done
	d.stopLocked()
	d.gen++
	d.peer = ""
	d.messages = nil
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *DMSync) stopLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		d.done = nil
	}
}

// Peer returns the open thread's peer handle, or "" when closed.
func (d *DMSync) Peer() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peer
}

func (d *DMSync) Messages() []DmMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DmMessage, len(d.messages))
	copy(out, d.messages)
	return out
}

// Send submits text to the open thread. The canonical record is appended
// locally on success; the next poll's snapshot supersedes it.
func (d *DMSync) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyText
	}
	if r := []rune(trimmed); len(r) > maxDmTextLen {
		trimmed = string(r[:maxDmTextLen])
	}

	d.mu.Lock()
	peer := d.peer
	gen := d.gen
	d.mu.Unlock()

	item, err := d.backend.DmSend(ctx, d.me, peer, trimmed)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if gen == d.gen {
		d.messages = append(d.messages, item)
	}
	d.mu.Unlock()
	d.notify()
	return nil
}

func (d *DMSync) loop(ctx context.Context, peer string, gen uint64, done chan struct{}) {
	defer close(done)
	d.poll(ctx, peer, gen)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx, peer, gen)
		}
	}
}

func (d *DMSync) poll(ctx context.Context, peer string, gen uint64) {
	items, err := d.backend.DmHistory(ctx, d.me, peer, d.limit)
	if err != nil {
		if ctx.Err() == nil && d.onError != nil {
			d.onError(err)
		}
		return
	}
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.messages = items
	d.mu.Unlock()
	d.notify()
}

func (d *DMSync) notify() {
	if d.onUpdate != nil {
		d.onUpdate()
	}
}
