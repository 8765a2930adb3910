package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default service settings.
const (
	DefaultImportTimeout = 10 * time.Minute
	DefaultSessionTTL    = 15 * time.Minute
)

// ServiceConfig configures a Service. Zero values use package defaults.
type ServiceConfig struct {
	Read          ReadOptions
	Synonyms      Synonyms
	Rules         ValidationRules
	Batcher       BatcherConfig
	MaxConcurrent int
	MaxWait       time.Duration
	ImportTimeout time.Duration // bound on one Run
	SessionTTL    time.Duration // how long sessions are kept, idle or finished
}

// Service hosts independent import sessions by id. Runs are bounded by a
// SessionLimiter and happen in the background.
type Service struct {
	submitter BatchSubmitter
	cfg       ServiceConfig
	limiter   *SessionLimiter
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	running  sync.WaitGroup
}

// NewService creates a Service that submits through submitter. A nil
// logger uses slog.Default().
func NewService(submitter BatchSubmitter, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Synonyms == nil {
		cfg.Synonyms = DefaultSynonyms()
	}
	return &Service{
		submitter: submitter,
		cfg:       cfg,
		limiter:   NewSessionLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Fields returns the canonical fields a column can map to.
func (s *Service) Fields() []FieldInfo {
	return Fields()
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// StartImport creates a session and loads r into it. The session is
// registered even when loading fails, so its aborted report can still be
// fetched; in that case both the session and the error are returned.
func (s *Service) StartImport(ctx context.Context, fileName string, r io.Reader, opts ParseOptions) (*Session, error) {
	id := uuid.New().String()
	sess := NewSession(id, fileName, s.submitter, SessionOptions{
		Read:     s.cfg.Read,
		Parse:    opts,
		Synonyms: s.cfg.Synonyms,
		Rules:    s.cfg.Rules,
		Batcher:  s.cfg.Batcher,
		Logger:   s.logger,
	})

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.expire(id, s.cfg.SessionTTL)

	s.logger.Info("import started", "session_id", id, "file", fileName)
	if err := sess.Load(ctx, r); err != nil {
		return sess, err
	}
	return sess, nil
}

// Get returns the session with the given id.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// ConfirmMapping fixes the session's mapping and starts its run in the
// background. It waits for a run slot; ErrTooManySessions leaves the
// session in the mapping state.
func (s *Service) ConfirmMapping(ctx context.Context, id string, choices Choices) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := sess.Confirm(choices); err != nil {
		return err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		s.logger.Warn("no run slot available", "session_id", id, "error", err)
		return err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ImportTimeout)
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in import run", "session_id", id, "panic", r)
				sess.abort(fmt.Errorf("internal error: %v", r))
			}
			s.expire(id, s.cfg.SessionTTL)
		}()

		if _, err := sess.Run(runCtx); err != nil {
			s.logger.Warn("import run failed to start", "session_id", id, "error", err)
		}
	}()
	return nil
}

// Subscribe returns the session's progress channel.
func (s *Service) Subscribe(id string) (<-chan Progress, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Subscribe(), nil
}

// Cancel cancels the session.
func (s *Service) Cancel(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

// Report returns the session's final report. With wait it blocks until
// the session ends or ctx is done; otherwise a running session yields
// ErrImportRunning.
func (s *Service) Report(ctx context.Context, id string, wait bool) (*ImportReport, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if wait {
		return sess.Wait(ctx)
	}
	if r := sess.Report(); r != nil {
		return r, nil
	}
	return nil, ErrImportRunning
}

// CancelAll cancels every session that has not finished.
func (s *Service) CancelAll() {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.Cancel()
	}
}

// WaitForSessions blocks until every background run has returned or ctx
// is done.
func (s *Service) WaitForSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return s.limiter.WaitForDrain(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tracked sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// expire drops the session after delay. A session still running at that
// point is left alone; its run schedules a fresh expiry when it ends.
// A session that was never run is cancelled as it is dropped.
func (s *Service) expire(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		sess, ok := s.sessions[id]
		if !ok {
			s.mu.Unlock()
			return
		}
		if st := sess.State(); st == StateValidating || st == StateSubmitting {
			s.mu.Unlock()
			return
		}
		delete(s.sessions, id)
		s.mu.Unlock()

		sess.Cancel()
		s.logger.Debug("session expired", "session_id", id)
	})
}
