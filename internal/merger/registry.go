package merger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry holds the live sessions of a server process and evicts idle ones.
type Registry struct {
	newSession func() *Session
	idle       time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates sessions with factory. Sessions unused for longer
// than idle are removed by Sweep; idle <= 0 disables eviction.
func NewRegistry(factory func() *Session, idle time.Duration) *Registry {
	return &Registry{
		newSession: factory,
		idle:       idle,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Create registers a fresh session.
func (r *Registry) Create() *Session {
	s := r.newSession()
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	log.Info().Str("session", s.ID()).Msg("session created")
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete closes and forgets a session. A session that is merging stays
// registered and Delete returns assembly.ErrAlreadyMerging.
func (r *Registry) Delete(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := s.Close(); err != nil {
		return err
	}
	r.forget(id, s)
	log.Info().Str("session", id).Msg("session deleted")
	return nil
}

func (r *Registry) forget(id string, s *Session) {
	r.mu.Lock()
	if r.sessions[id] == s {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops idle sessions that are not merging and returns how many went.
// Sessions are examined without holding the registry lock.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)
	r.mu.RLock()
	all := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		all[id] = s
	}
	r.mu.RUnlock()

	evicted := 0
	for id, s := range all {
		if s.closeIfIdle(cutoff) {
			r.forget(id, s)
			evicted++
		}
	}
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Dur("idle", r.idle).Msg("idle sessions evicted")
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idle <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}
