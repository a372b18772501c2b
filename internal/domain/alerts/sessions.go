package alerts

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Sessions keeps one watcher per connected user. Every connection of the
// user acquires it; the last release stops it.
type Sessions struct {
	deps   Deps
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[string]*session
}

type session struct {
	watcher *Watcher
	refs    int
}

func NewSessions(deps Deps, logger zerolog.Logger) *Sessions {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sessions{
		deps:     deps,
		logger:   logger.With().Str("component", "alerts").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[string]*session),
	}
}

// Acquire starts the watcher of uid on its first connection.
func (s *Sessions) Acquire(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if sess, ok := s.watchers[uid]; ok {
		sess.refs++
		return
	}
	w := newWatcher(uid, s.deps, s.logger)
	w.Start(s.ctx)
	s.watchers[uid] = &session{watcher: w, refs: 1}
	s.logger.Debug().Str("uid", uid).Msg("alert watcher started")
}

// Release drops one reference and stops the watcher at zero.
func (s *Sessions) Release(uid string) {
	s.mu.Lock()
	sess, ok := s.watchers[uid]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.refs--
	if sess.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.watchers, uid)
	s.mu.Unlock()

	sess.watcher.Stop()
	s.logger.Debug().Str("uid", uid).Msg("alert watcher stopped")
}

// Drop stops the watcher of uid regardless of open connections.
func (s *Sessions) Drop(uid string) {
	s.mu.Lock()
	sess, ok := s.watchers[uid]
	delete(s.watchers, uid)
	s.mu.Unlock()
	if ok {
		sess.watcher.Stop()
	}
}

// Watcher returns the running watcher of uid.
func (s *Sessions) Watcher(uid string) (*Watcher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.watchers[uid]
	if !ok {
		return nil, false
	}
	return sess.watcher, true
}

// Count returns the number of running watchers.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// Close stops every watcher. Later Acquire calls are ignored.
func (s *Sessions) Close() {
	s.mu.Lock()
	s.cancel()
	all := s.watchers
	s.watchers = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.watcher.Stop()
	}
}
