package session

import (
	"context"
	"sync"
	"time"

	"deanalyse/domain/core"
	"deanalyse/domain/session"

	"go.uber.org/zap"
)

const (
	// DefaultRetention matches the 24 hour data retention window
	DefaultRetention = 24 * time.Hour
	// DefaultSweepInterval is how often expired entries are evicted
	DefaultSweepInterval = 5 * time.Minute
)

// MemoryStore keeps session entries in process memory. Entries are stored by
// pointer and replaced under the write lock, so readers always see either the
// old or the new entry in full.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*session.Entry
	latest    *session.Entry
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a MemoryStore
type Option func(*MemoryStore)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithLogger sets the logger used by the sweeper
func WithLogger(logger *zap.Logger) Option {
	return func(s *MemoryStore) { s.logger = logger.Named("session") }
}

// NewMemoryStore creates an empty store. A non-positive retention disables expiry.
func NewMemoryStore(retention time.Duration, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries:   make(map[string]*session.Entry),
		retention: retention,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores entry under key and makes it the latest upload. CreatedAt and
// ExpiresAt are filled in when zero.
func (s *MemoryStore) Put(ctx context.Context, key string, entry *session.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	stored := *entry
	if stored.ID == "" {
		stored.ID = key
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.ExpiresAt.IsZero() && s.retention > 0 {
		stored.ExpiresAt = stored.CreatedAt.Add(s.retention)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if key != session.LatestKey {
		s.entries[key] = &stored
	}
	s.latest = &stored
	return nil
}

// Get returns the entry for key. The key "latest" resolves to the most recent upload.
func (s *MemoryStore) Get(ctx context.Context, key string) (*session.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == session.LatestKey {
		return s.Latest(ctx)
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || entry.Expired(s.now()) {
		return nil, core.ErrSessionNotFound
	}
	return entry, nil
}

// Latest returns the most recent unexpired upload
func (s *MemoryStore) Latest(ctx context.Context) (*session.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entry := s.latest
	s.mu.RUnlock()
	if entry == nil || entry.Expired(s.now()) {
		return nil, core.ErrSessionNotFound
	}
	return entry, nil
}

// Delete forgets key. Deleting the entry that backs "latest" clears the alias too.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == session.LatestKey {
		if s.latest != nil {
			delete(s.entries, s.latest.ID)
		}
		s.latest = nil
		return nil
	}
	if entry, ok := s.entries[key]; ok && entry == s.latest {
		s.latest = nil
	}
	delete(s.entries, key)
	return nil
}

// Sweep evicts every entry expired at now
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if s.latest != nil && s.latest.Expired(now) {
		s.latest = nil
	}
	return removed
}

// Len returns the number of stored sessions, expired or not
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartSweeper evicts expired entries every interval until ctx is done or Stop is called
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if n := s.Sweep(s.now()); n > 0 {
					s.logger.Info("evicted expired sessions", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit
func (s *MemoryStore) Stop() {
	if s.stop == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
