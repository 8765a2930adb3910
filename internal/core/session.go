package core

// session.go drives one import from file to report.
//
//	idle -> parsing -> mapping -> validating -> submitting -> completed
//	                                                       -> cancelled
//	                                                       -> aborted
//
// The caller moves the session forward explicitly: Load reads and parses
// the file, Confirm fixes the mapping, Run validates and submits. Each
// call suspends only on its own I/O, so the caller decides when the next
// step begins. Cancel is honored immediately before Run and at the next
// batch boundary after it.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultPreviewRows is how many parsed rows Info includes.
const DefaultPreviewRows = 5

// listenerBuffer is the channel capacity given to each subscriber.
const listenerBuffer = 16

// SessionOptions configures a Session. Zero values use package defaults.
type SessionOptions struct {
	Read     ReadOptions
	Parse    ParseOptions
	Synonyms Synonyms
	Rules    ValidationRules
	Batcher  BatcherConfig
	Logger   *slog.Logger
}

// Session is a single import attempt. It is safe for concurrent use;
// the pipeline itself runs on whichever goroutine calls Run.
type Session struct {
	id       string
	fileName string
	opts     SessionOptions
	mapper   *FieldMapper
	batcher  *ImportBatcher
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	table      *Table
	header     Header
	separator  rune
	rows       int
	suggestion Choices
	mapping    FieldMapping
	report     *ImportReport
	progress   Progress
	err        error
	token      *CancelToken
	done       chan struct{}

	listenerMu sync.Mutex
	listeners  []chan Progress
	closed     bool
}

// NewSession creates an idle session that will submit through submitter.
func NewSession(id, fileName string, submitter BatchSubmitter, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	syn := opts.Synonyms
	if syn == nil {
		syn = DefaultSynonyms()
	}

	return &Session{
		id:       id,
		fileName: fileName,
		opts:     opts,
		mapper:   NewFieldMapper(syn),
		batcher:  NewImportBatcher(submitter, opts.Batcher, logger),
		logger:   logger,
		state:    StateIdle,
		report: &ImportReport{
			SessionID: id,
			FileName:  fileName,
			Errors:    []RowError{},
			Warnings:  []RowError{},
			StartedAt: time.Now(),
		},
		progress: Progress{SessionID: id, State: StateIdle},
		token:    NewCancelToken(),
		done:     make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// FileName returns the name the file was uploaded under.
func (s *Session) FileName() string { return s.fileName }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal error that aborted the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Load reads r into memory and parses it. A read or parse failure aborts
// the session and is returned.
func (s *Session) Load(ctx context.Context, r io.Reader) error {
	if err := s.transition(StateIdle, StateParsing); err != nil {
		return err
	}
	s.notify()

	content, err := ReadContent(r, s.opts.Read)
	if err != nil {
		s.abort(err)
		return err
	}
	if err := ctx.Err(); err != nil {
		s.finish(StatusCancelled)
		return err
	}

	table, err := Parse(content, s.opts.Parse)
	if err != nil {
		s.abort(err)
		return err
	}

	s.mu.Lock()
	if s.state != StateParsing {
		// cancelled while parsing
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrInvalidState, st)
	}
	s.table = table
	s.header = table.Header
	s.separator = table.Separator
	s.rows = len(table.Rows)
	s.suggestion = s.mapper.Suggest(table.Header)
	s.report.Total = len(table.Rows)
	s.state = StateMapping
	s.progress.State = StateMapping
	s.mu.Unlock()

	s.logger.Info("file parsed",
		"file", s.fileName, "rows", len(table.Rows), "columns", len(table.Header), "separator", string(table.Separator))
	s.notify()
	return nil
}

// Header returns the parsed header, or nil before parsing.
func (s *Session) Header() Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Header(nil), s.header...)
}

// Suggestion returns the automatic mapping computed after parsing.
func (s *Session) Suggestion() Choices {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Choices, len(s.suggestion))
	for f, c := range s.suggestion {
		out[f] = c
	}
	return out
}

// Preview returns up to n parsed rows. Rows are released once validation
// starts, after which Preview returns nil.
func (s *Session) Preview(n int) []RawRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil || n <= 0 {
		return nil
	}
	n = min(n, len(s.table.Rows))
	out := make([]RawRow, n)
	for i, r := range s.table.Rows[:n] {
		r.Cells = append([]string(nil), r.Cells...)
		out[i] = r
	}
	return out
}

// Confirm builds the mapping from the caller's choices. A MappingError
// leaves the session in the mapping state so the caller can try again.
func (s *Session) Confirm(choices Choices) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateMapping {
		return fmt.Errorf("%w: cannot confirm mapping while %s", ErrInvalidState, s.state)
	}
	mapping, err := s.mapper.Build(s.header, choices)
	if err != nil {
		s.logger.Info("mapping rejected", "error", err)
		return err
	}
	s.mapping = mapping
	return nil
}

// Mapping returns the confirmed mapping, or nil before Confirm succeeds.
func (s *Session) Mapping() FieldMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapping == nil {
		return nil
	}
	out := make(FieldMapping, len(s.mapping))
	for f, c := range s.mapping {
		out[f] = c
	}
	return out
}

// Run validates every row and submits the valid ones. It blocks until the
// session is terminal and returns the final report.
func (s *Session) Run(ctx context.Context) (*ImportReport, error) {
	s.mu.Lock()
	if s.state != StateMapping || s.mapping == nil {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot run while %s without a confirmed mapping", ErrInvalidState, st)
	}
	table := s.table
	validator := NewRowValidator(s.mapping, len(s.header), s.opts.Rules)
	s.state = StateValidating
	s.progress.State = StateValidating
	s.mu.Unlock()
	s.notify()

	valid := make([]Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		res := validator.Validate(row)
		s.report.addWarnings(res.Warnings)
		if res.OK() {
			valid = append(valid, *res.Record)
			continue
		}
		s.report.addRowErrors(res.Errors)
	}

	s.mu.Lock()
	s.table = nil
	s.progress = Progress{SessionID: s.id, State: StateValidating, Total: len(valid), Failed: s.report.Failed}
	s.mu.Unlock()
	s.logger.Info("rows validated", "valid", len(valid), "rejected", s.report.Failed, "warnings", len(s.report.Warnings))
	s.notify()

	switch {
	case s.token.Cancelled() || ctx.Err() != nil:
		s.finish(StatusCancelled)
		return s.Report(), nil
	case len(valid) == 0:
		s.finish(StatusCompleted)
		return s.Report(), nil
	}

	s.mu.Lock()
	s.state = StateSubmitting
	s.progress.State = StateSubmitting
	s.mu.Unlock()
	s.notify()

	status := s.batcher.Submit(ctx, valid, s.report, s.token, func(p Progress) {
		s.mu.Lock()
		s.progress = p
		s.mu.Unlock()
		s.notify()
	})
	s.finish(status)
	return s.Report(), nil
}

// Import confirms choices and runs the session.
func (s *Session) Import(ctx context.Context, choices Choices) (*ImportReport, error) {
	if err := s.Confirm(choices); err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// Cancel stops the session. Before Run it takes effect immediately; during
// Run no further batch is sent. Cancelling a terminal session does nothing.
func (s *Session) Cancel() {
	beforeRun := func(st State) bool {
		return st == StateIdle || st == StateParsing || st == StateMapping
	}
	if s.finishIf(StatusCancelled, beforeRun) {
		return
	}
	if st := s.State(); !st.Terminal() {
		s.logger.Info("cancellation requested", "state", st)
	}
	s.token.Cancel()
}

// Report returns a copy of the final report, or nil while the session is
// still running.
func (s *Session) Report() *ImportReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		return nil
	}
	return s.report.clone()
}

// Wait blocks until the session is terminal and returns its report.
func (s *Session) Wait(ctx context.Context) (*ImportReport, error) {
	select {
	case <-s.done:
		return s.Report(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Progress returns the latest progress snapshot.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// SessionInfo is a point-in-time view of a session for API clients.
type SessionInfo struct {
	ID         string       `json:"id"`
	FileName   string       `json:"fileName,omitempty"`
	State      State        `json:"state"`
	Header     Header       `json:"header"`
	Separator  string       `json:"separator,omitempty"`
	Rows       int          `json:"rows"`
	Suggestion Choices      `json:"suggestion,omitempty"`
	Mapping    FieldMapping `json:"mapping,omitempty"`
	Preview    []RawRow     `json:"preview,omitempty"`
	Progress   Progress     `json:"progress"`
	Error      string       `json:"error,omitempty"`
}

// Info returns a snapshot including up to DefaultPreviewRows rows.
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:         s.id,
		FileName:   s.fileName,
		Header:     s.Header(),
		Suggestion: s.Suggestion(),
		Mapping:    s.Mapping(),
		Preview:    s.Preview(DefaultPreviewRows),
	}

	s.mu.Lock()
	info.State = s.state
	info.Rows = s.rows
	info.Progress = s.progress
	if s.separator != 0 {
		info.Separator = string(s.separator)
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	s.mu.Unlock()
	return info
}

// Subscribe returns a channel of progress updates. The current progress is
// sent first. Updates are dropped for a subscriber that falls behind; the
// channel is closed when the session is terminal.
func (s *Session) Subscribe() <-chan Progress {
	ch := make(chan Progress, listenerBuffer)

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	ch <- s.Progress()
	if s.closed {
		close(ch)
		return ch
	}
	s.listeners = append(s.listeners, ch)
	return ch
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: expected %s, session is %s", ErrInvalidState, from, s.state)
	}
	s.state = to
	s.progress.State = to
	return nil
}

// abort ends the session with a fatal error.
func (s *Session) abort(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.table = nil
	s.mu.Unlock()

	s.logger.Warn("import aborted", "error", err)
	s.finish(StatusAborted)
}

// finish moves the session to the terminal state matching status. Only
// the first call has any effect.
func (s *Session) finish(status Status) {
	s.finishIf(status, func(State) bool { return true })
}

// finishIf finishes the session only if its current state satisfies ok.
// The check and the transition happen under one lock.
func (s *Session) finishIf(status Status, ok func(State) bool) bool {
	s.mu.Lock()
	if s.state.Terminal() || !ok(s.state) {
		s.mu.Unlock()
		return false
	}
	s.state = State(status)
	s.table = nil
	s.report.Status = status
	s.report.sortByRow()
	s.report.FinishedAt = time.Now()
	s.progress.State = s.state
	s.progress.Succeeded = s.report.Succeeded
	s.progress.Failed = s.report.Failed
	report := s.report
	s.mu.Unlock()

	s.logger.Info("import finished",
		"status", status,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration", report.Duration(),
	)

	s.notify()
	s.closeListeners()
	close(s.done)
	return true
}

// notify sends the current progress to every listener without blocking.
func (s *Session) notify() {
	p := s.Progress()

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

func (s *Session) closeListeners() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.closed = true
}
