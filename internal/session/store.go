package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tutorexec/internal/domain/execution"
)

const DefaultRetention = 10 * time.Minute

var ErrStoreClosed = errors.New("session store closed")

// Store tracks interactive sessions by id. Terminal sessions stay
// retrievable until removed or reaped after the retention window.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	retention time.Duration
	logger    zerolog.Logger
	closed    bool
}

func NewStore(retention time.Duration, logger zerolog.Logger) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		sessions:  make(map[string]*Session),
		retention: retention,
		logger:    logger.With().Str("component", "session_store").Logger(),
	}
}

// Add registers s. A closed store stops s instead and returns
// ErrStoreClosed.
func (st *Store) Add(s *Session) error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		s.Stop()
		return ErrStoreClosed
	}
	st.sessions[s.ID()] = s
	st.mu.Unlock()
	return nil
}

func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", execution.ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove drops id from the store and reports whether it was present. It
// does not stop the session.
func (st *Store) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Reap removes terminal sessions that finished before now minus the
// retention window and returns how many were removed.
func (st *Store) Reap(now time.Time) int {
	cutoff := now.Add(-st.retention)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		finished := s.FinishedAt()
		if finished.IsZero() || finished.After(cutoff) {
			continue
		}
		delete(st.sessions, id)
		removed++
	}
	return removed
}

// Run reaps periodically until ctx is cancelled.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = st.retention / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := st.Reap(now); n > 0 {
				st.logger.Debug().Int("removed", n).Msg("reaped finished sessions")
			}
		}
	}
}

// Close stops every live session and empties the store. Sessions added
// afterwards are stopped immediately.
func (st *Store) Close() {
	st.mu.Lock()
	st.closed = true
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}
