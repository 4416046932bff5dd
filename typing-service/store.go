package main

import (
	"sort"
	"sync"
	"time"
)

// typingStore tracks who is typing in which room. Entries expire ttl after
// the last announce; eviction is lazy, performed on every read. A room bucket
// is dropped as soon as its last entry expires, so idle rooms hold no memory.
type typingStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	rooms map[string]map[string]time.Time // room -> handle -> expiresAt
}

func newTypingStore(ttl time.Duration) *typingStore {
	return &typingStore{
		ttl:   ttl,
		now:   time.Now,
		rooms: make(map[string]map[string]time.Time),
	}
}

// announce records that handle is typing in room. A repeat announce refreshes
// the expiry; there is never more than one entry per (room, handle).
func (s *typingStore) announce(room, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.rooms[room]
	if bucket == nil {
		bucket = make(map[string]time.Time)
		s.rooms[room] = bucket
	}
	bucket[handle] = s.now().Add(s.ttl)
}

// active evicts every expired entry in room, drops the bucket if it is now
// empty, and returns the surviving handles sorted for stable output.
func (s *typingStore) active(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.rooms[room]
	if bucket == nil {
		return nil
	}
	now := s.now()
	handles := make([]string, 0, len(bucket))
	for handle, expiresAt := range bucket {
		if !expiresAt.After(now) {
			delete(bucket, handle)
			continue
		}
		handles = append(handles, handle)
	}
	if len(bucket) == 0 {
		delete(s.rooms, room)
		return nil
	}
	sort.Strings(handles)
	return handles
}

func (s *typingStore) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
