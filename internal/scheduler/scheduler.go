// Package scheduler manages deferred bot launches: one cancellable
// one-shot timer per account.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type entry struct {
	token string
	timer *time.Timer
}

// Scheduler keeps at most one pending launch timer per account.
// Scheduling again for the same account cancels and replaces the
// previous timer (last write wins). Cancel and fire are mutually
// exclusive: a cancelled timer never invokes its launch function.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*entry
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		pending: make(map[string]*entry),
		logger:  logger,
	}
}

// Schedule registers a one-shot timer for the account and returns an
// opaque token identifying the pending launch. When the timer fires,
// launch runs exactly once and the token is discarded.
func (s *Scheduler) Schedule(account string, delay time.Duration, launch func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[account]; ok {
		prev.timer.Stop()
		delete(s.pending, account)
		s.logger.Info("replacing pending schedule",
			zap.String("account", account),
			zap.String("token", prev.token))
	}

	e := &entry{token: uuid.NewString()}
	e.timer = time.AfterFunc(delay, func() {
		s.fire(account, e, launch)
	})
	s.pending[account] = e

	s.logger.Info("scheduled launch",
		zap.String("account", account),
		zap.String("token", e.token),
		zap.Duration("delay", delay))
	return e.token
}

// fire runs in the timer goroutine. The entry must still be the
// current one for the account: a concurrent Cancel or a replacing
// Schedule removed it, in which case launch must not run.
func (s *Scheduler) fire(account string, e *entry, launch func()) {
	s.mu.Lock()
	current, ok := s.pending[account]
	if !ok || current != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, account)
	s.mu.Unlock()

	s.logger.Info("schedule fired", zap.String("account", account), zap.String("token", e.token))
	launch()
}

// Cancel stops a pending timer if one exists and reports whether it
// did. After Cancel returns true the launch function is guaranteed
// not to fire for that token.
func (s *Scheduler) Cancel(account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[account]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, account)
	s.logger.Info("schedule cancelled", zap.String("account", account), zap.String("token", e.token))
	return true
}

// Pending reports whether the account has a timer registered.
func (s *Scheduler) Pending(account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[account]
	return ok
}

// Shutdown cancels every pending timer.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for account, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, account)
	}
}
