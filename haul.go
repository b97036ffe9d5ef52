// Package haul implements a resumable download engine for large model
// artifacts. An external scheduler drives it: Run executes one attempt and
// returns a closed Outcome telling the scheduler to stop, retry after a
// delay, or give up. Paused progress is persisted through a ProgressStore so
// transfers survive process restarts.
package haul

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// KeepAlive lets the engine register with a host mechanism that keeps the
// process alive for the duration of a long transfer (a foreground-execution
// marker on mobile, a drain guard on servers). The label is the
// human-readable status string for display by that host.
type KeepAlive interface {
	Acquire(label string) (release func())
}

type noopKeepAlive struct{}

func (noopKeepAlive) Acquire(string) func() { return func() {} }

// Engine orchestrates the full lifecycle of download tasks: session
// creation, retry scheduling, progress reporting, archive extraction and
// pause/resume persistence. Fields may be adjusted before the first Run.
type Engine struct {

	// Client used for all transfers. Defaults to DefaultClient.
	Client *http.Client

	// Store persists paused progress across process restarts.
	Store ProgressStore

	// Policy computes backoff between retry attempts.
	Policy Policy

	// Interval throttles progress updates. Defaults to one per second.
	Interval time.Duration

	// StallTimeout fails an attempt as a network error when no byte has
	// arrived for this long. Defaults to DefaultStallTimeout.
	StallTimeout time.Duration

	// Updates receives throttled progress samples. May be nil. Intermediate
	// samples are dropped when the consumer lags; only the terminal sample
	// waits, briefly, before giving up.
	Updates chan<- Update

	// KeepAlive is acquired for the duration of each Run.
	KeepAlive KeepAlive

	// Logger for structured engine logs.
	Logger logrus.FieldLogger

	// Generation is this process's generation token. Tasks tagged with a
	// different generation are abandoned rather than silently dropped.
	Generation string

	mu       sync.Mutex
	active   map[string]*session
	attempts map[string]int
}

// NewGeneration returns a fresh process-generation token.
func NewGeneration() string {
	return uuid.NewString()
}

// New returns an engine with default client, policy and logging.
func New(store ProgressStore) *Engine {
	return &Engine{
		Client:       DefaultClient,
		Store:        store,
		Policy:       DefaultPolicy(),
		Interval:     DefaultProgressInterval,
		StallTimeout: DefaultStallTimeout,
		KeepAlive:    noopKeepAlive{},
		Logger:       logrus.StandardLogger(),
		Generation:   NewGeneration(),
		active:       make(map[string]*session),
		attempts:     make(map[string]int),
	}
}

// Status renders the transfer status string displayed by the keep-alive
// host. percent below zero means unknown.
func Status(task *Task, percent int) string {
	if percent < 0 {
		return fmt.Sprintf("Downloading '%s'", task.ID)
	}
	return fmt.Sprintf("Downloading '%s': %d%%", task.ID, percent)
}

// Run executes one attempt for the task and reports how it ended. The caller
// re-invokes Run after Outcome.Delay on OutcomeRetry and gives up on
// OutcomeFailure. Starting a task whose ID already has an active session
// interrupts that session first.
func (e *Engine) Run(ctx context.Context, task *Task) Outcome {

	e.ensure()

	if err := task.Validate(); err != nil {
		return Outcome{Kind: OutcomeFailure, Err: err}
	}

	log := e.logger().WithField("task", task.ID)

	if task.Generation != "" && e.Generation != "" && task.Generation != e.Generation {
		log.WithField("generation", task.Generation).
			Warn("task from stale process generation, abandoning")
		return Outcome{Kind: OutcomeAbandoned}
	}

	path := task.Path()
	offset := e.verifyResume(path, e.resolveOffset(task, log), log)

	rep := NewReporter(task.ID, task.TotalSize, offset, e.Updates, e.Interval)

	// Every byte already on disk. A range request starting at the end of
	// the file draws a 416 from a compliant server, which would discard the
	// complete file and re-download it.
	if task.TotalSize > 0 && offset >= task.TotalSize {
		log.Info("destination file already complete")
		return e.complete(task, path, rep, log)
	}

	release := e.keepAlive().Acquire(Status(task, rep.Percent()))
	defer release()

	restarted := false

	for {
		log.WithField("offset", offset).Info("starting transfer")

		sess := newSession(task, e.client(), path, offset, rep, e.stallTimeout())
		e.register(task.ID, sess)
		err := sess.run(ctx)
		e.unregister(task.ID, sess)

		if err == nil {
			return e.complete(task, path, rep, log)
		}

		switch {
		case errors.Is(err, ErrCancelled):
			log.Info("transfer cancelled")
			return Outcome{Kind: OutcomeCancelled}

		case errors.Is(err, ErrRangeNotSupported) && !restarted:
			// Deterministic fallback, not a transient fault: restart
			// from zero without consuming retry budget.
			log.Warn("server rejected range request, restarting from zero")
			restarted = true
			offset = 0
			os.Remove(path)
			e.removeRecord(task.ID, log)
			rep = NewReporter(task.ID, task.TotalSize, 0, e.Updates, e.Interval)
			continue

		case IsRetryable(err):
			attempt := e.nextAttempt(task.ID)
			delay, ok := e.policy().Delay(attempt)
			if !ok {
				e.clearAttempts(task.ID)
				log.WithError(err).WithField("attempt", attempt).
					Error("retry budget exhausted")
				return Outcome{Kind: OutcomeFailure, Err: err}
			}
			log.WithError(err).WithField("attempt", attempt).
				WithField("delay", delay).Warn("transfer failed, will retry")
			return Outcome{Kind: OutcomeRetry, Delay: delay, Attempt: attempt, Err: err}

		default:
			e.clearAttempts(task.ID)
			log.WithError(err).Error("transfer failed")
			return Outcome{Kind: OutcomeFailure, Err: err}
		}
	}
}

// Pause interrupts the task's active session and persists its progress with
// the paused flag set. No further chunk is written once the session has been
// interrupted, so the persisted percent is consistent with the file on disk.
// percent is the caller's last observed value, used only when no session is
// active; a live session's own counters win. Pausing resets retry state.
func (e *Engine) Pause(id string, percent int) bool {

	e.ensure()

	e.mu.Lock()
	s := e.active[id]
	e.mu.Unlock()

	if s != nil {
		s.interrupt()
		if p := s.rep.Percent(); p >= 0 {
			percent = p
		}
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	if e.Store == nil {
		return false
	}

	if err := e.Store.Put(id, Record{Paused: true, Percent: percent}); err != nil {
		e.logger().WithField("task", id).WithError(err).
			Error("persisting pause record")
		return false
	}

	e.clearAttempts(id)
	return true
}

// Resume returns the paused record for the task, if any, and resets retry
// state so a fresh Run starts with a full budget. It is a no-op returning
// false when no paused record exists; the caller then treats the task as new.
func (e *Engine) Resume(id string) (Record, bool) {
	if e.Store == nil {
		return Record{}, false
	}

	rec, ok, err := e.Store.Get(id)
	if err != nil {
		e.logger().WithField("task", id).WithError(err).
			Error("reading pause record")
		return Record{}, false
	}
	if !ok || !rec.Paused {
		return Record{}, false
	}

	e.clearAttempts(id)
	return rec, true
}

// Cancel interrupts the task's active session, if any, and drops its
// persisted progress.
func (e *Engine) Cancel(id string) {
	e.ensure()

	e.mu.Lock()
	s := e.active[id]
	e.mu.Unlock()

	if s != nil {
		s.interrupt()
	}

	e.removeRecord(id, e.logger().WithField("task", id))
	e.clearAttempts(id)
}

// complete handles the success path: final progress sample, archive
// extraction, source archive deletion and store cleanup.
func (e *Engine) complete(task *Task, path string, rep *Reporter, log logrus.FieldLogger) Outcome {

	rep.Finish()

	if task.Archive {
		if err := Extract(path, task.ExtractDir); err != nil {
			// Extraction over an unchanged archive is deterministic;
			// never retried.
			e.clearAttempts(task.ID)
			log.WithError(err).Error("archive extraction failed")
			return Outcome{Kind: OutcomeFailure, Err: err}
		}
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warn("removing source archive")
		}
	}

	e.removeRecord(task.ID, log)
	e.clearAttempts(task.ID)

	log.WithField("bytes", rep.Bytes()).Info("download complete")
	return Outcome{Kind: OutcomeSuccess}
}

// resolveOffset determines where the transfer starts: an explicit task
// offset wins, else a paused store record is converted from percent to
// bytes. Unknown total size disables percentage-based resumption.
func (e *Engine) resolveOffset(task *Task, log logrus.FieldLogger) int64 {

	if task.ResumeOffset > 0 {
		return task.ResumeOffset
	}

	if e.Store == nil || task.TotalSize <= 0 {
		return 0
	}

	rec, ok, err := e.Store.Get(task.ID)
	if err != nil {
		log.WithError(err).Warn("reading progress record, starting fresh")
		return 0
	}
	if !ok || !rec.Paused {
		return 0
	}

	pct := rec.Percent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	return task.TotalSize * int64(pct) / 100
}

// verifyResume checks that the destination file matches the resume offset.
// A missing or mismatched file would be corrupted by appending, so it is
// discarded and the transfer restarts from zero.
func (e *Engine) verifyResume(path string, offset int64, log logrus.FieldLogger) int64 {

	if offset <= 0 {
		return 0
	}

	st, err := os.Stat(path)
	if err != nil || st.Size() != offset {
		log.WithField("offset", offset).
			Warn("destination does not match resume offset, restarting")
		os.Remove(path)
		return 0
	}

	return offset
}

func (e *Engine) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return DefaultClient
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}

func (e *Engine) keepAlive() KeepAlive {
	if e.KeepAlive != nil {
		return e.KeepAlive
	}
	return noopKeepAlive{}
}

func (e *Engine) stallTimeout() time.Duration {
	if e.StallTimeout > 0 {
		return e.StallTimeout
	}
	return DefaultStallTimeout
}

func (e *Engine) policy() Policy {
	if e.Policy == (Policy{}) {
		return DefaultPolicy()
	}
	return e.Policy
}

// ensure initializes lazy state so an Engine built as a struct literal works
// the same as one from New.
func (e *Engine) ensure() {
	e.mu.Lock()
	if e.active == nil {
		e.active = make(map[string]*session)
	}
	if e.attempts == nil {
		e.attempts = make(map[string]int)
	}
	e.mu.Unlock()
}

func (e *Engine) removeRecord(id string, log logrus.FieldLogger) {
	if e.Store == nil {
		return
	}
	if err := e.Store.Remove(id); err != nil {
		log.WithError(err).Warn("removing progress record")
	}
}

// register installs the session as the task's single active one,
// interrupting any prior session for the same ID first.
func (e *Engine) register(id string, s *session) {
	for {
		e.mu.Lock()
		prev := e.active[id]
		if prev == nil {
			e.active[id] = s
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		prev.interrupt()

		e.mu.Lock()
		if e.active[id] == prev {
			delete(e.active, id)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) unregister(id string, s *session) {
	e.mu.Lock()
	if e.active[id] == s {
		delete(e.active, id)
	}
	e.mu.Unlock()
}

func (e *Engine) nextAttempt(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[id]++
	return e.attempts[id]
}

func (e *Engine) clearAttempts(id string) {
	e.mu.Lock()
	delete(e.attempts, id)
	e.mu.Unlock()
}
