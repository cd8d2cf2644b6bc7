package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLanguageValidator(fn LanguageValidator) MemoryOption {
	return func(s *MemoryStore) {
		s.isLanguage = fn
	}
}

type memoryKey struct {
	clientHash string
	lang       string
}

// MemoryStore keeps entries in process memory. It is used when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[memoryKey]map[int]time.Time
	expiry     time.Duration
	clock      func() time.Time
	isLanguage LanguageValidator
}

func NewMemoryStore(expiry time.Duration, opts ...MemoryOption) *MemoryStore {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	s := &MemoryStore{
		entries: make(map[memoryKey]map[int]time.Time),
		expiry:  expiry,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) AddEntry(ctx context.Context, clientHash string, jokeID int, lang string) error {
	if err := ValidateEntry(clientHash, jokeID, lang, s.isLanguage); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "add", Backend: "memory", Err: err}
	}

	key := memoryKey{clientHash: clientHash, lang: lang}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.entries[key]
	if !ok {
		ids = make(map[int]time.Time)
		s.entries[key] = ids
	}
	ids[jokeID] = s.clock()
	return nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, clientHash, lang string) ([]int, error) {
	if !ValidClientHash(clientHash) {
		return nil, ErrInvalidClientHash
	}
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Op: "list", Backend: "memory", Err: err}
	}

	cutoff := s.clock().Add(-s.expiry)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.entries[memoryKey{clientHash: clientHash, lang: lang}]
	result := make([]int, 0, len(ids))
	for id, insertedAt := range ids {
		if insertedAt.After(cutoff) {
			result = append(result, id)
		}
	}
	sort.Ints(result)
	return result, nil
}

func (s *MemoryStore) ClearEntries(ctx context.Context, clientHash string) (int64, error) {
	if !ValidClientHash(clientHash) {
		return 0, ErrInvalidClientHash
	}
	if err := ctx.Err(); err != nil {
		return 0, &StoreError{Op: "clear", Backend: "memory", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, ids := range s.entries {
		if key.clientHash != clientHash {
			continue
		}
		deleted += int64(len(ids))
		delete(s.entries, key)
	}
	return deleted, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &StoreError{Op: "purge", Backend: "memory", Err: err}
	}

	cutoff := s.clock().Add(-s.expiry)

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for key, ids := range s.entries {
		for id, insertedAt := range ids {
			if !insertedAt.After(cutoff) {
				delete(ids, id)
				purged++
			}
		}
		if len(ids) == 0 {
			delete(s.entries, key)
		}
	}
	return purged, nil
}

var _ Store = (*MemoryStore)(nil)
