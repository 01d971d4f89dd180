package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback Store. All operations run under
// a single mutex; expired string entries are dropped on access and by a
// background janitor.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]memEntry
	zsets   map[string]map[string]float64
	lists   map[string][]string

	stopCh    chan struct{}
	closeOnce sync.Once
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an empty in-process store and starts its
// expiry janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		strings: make(map[string]memEntry),
		zsets:   make(map[string]map[string]float64),
		lists:   make(map[string][]string),
		stopCh:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.strings {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.strings, k)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.strings[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.strings, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = memEntry{value: value, expiresAt: exp}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.strings, k)
		delete(s.zsets, k)
		delete(s.lists, k)
	}
	return nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, members ...Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.zsets[key]
	if !ok {
		set = make(map[string]float64, len(members))
		s.zsets[key] = set
	}
	for _, m := range members {
		set[m.Member] = m.Score
	}
	return nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.zsets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.zsets, key)
	}
	return nil
}

func (s *MemoryStore) ZPopMin(_ context.Context, key string, count int) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sortedMembersLocked(key)
	if count < len(sorted) {
		sorted = sorted[:count]
	}
	set := s.zsets[key]
	for _, m := range sorted {
		delete(set, m.Member)
	}
	if len(set) == 0 {
		delete(s.zsets, key)
	}
	return sorted, nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64, limit int) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Member
	for _, m := range s.sortedMembersLocked(key) {
		if m.Score < min || m.Score > max {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortedMembersLocked returns all members of a zset ordered by score
// then member, matching Redis ordering. Caller holds the lock.
func (s *MemoryStore) sortedMembersLocked(key string) []Member {
	set := s.zsets[key]
	members := make([]Member, 0, len(set))
	for m, score := range set {
		members = append(members, Member{Member: m, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	return members
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	return nil
}
