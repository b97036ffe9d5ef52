package haul

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// chunkSize is the fixed copy buffer for one read/write cycle. Cancellation
// is checked between chunks, so this also bounds how much is written after a
// stop request.
const chunkSize = 8 * 1024

// DefaultStallTimeout bounds how long a transfer may go without receiving a
// single byte before the attempt fails as a network error.
const DefaultStallTimeout = 30 * time.Second

// session owns the socket and file handle for one transfer attempt. It is
// created and destroyed by the engine; handles are closed when the attempt
// ends regardless of outcome.
type session struct {
	task   *Task
	client *http.Client
	path   string
	offset int64
	rep    *Reporter
	stall  time.Duration

	stop     atomic.Bool
	stalled  atomic.Bool
	lastRead atomic.Int64
	done     chan struct{}

	mu   sync.Mutex
	body io.ReadCloser

	file *os.File
}

func newSession(task *Task, client *http.Client, path string, offset int64, rep *Reporter, stall time.Duration) *session {
	if stall <= 0 {
		stall = DefaultStallTimeout
	}
	return &session{
		task:   task,
		client: client,
		path:   path,
		offset: offset,
		rep:    rep,
		stall:  stall,
		done:   make(chan struct{}),
	}
}

// interrupt requests a stop and blocks until the attempt has ended. Closing
// the body aborts an in-flight Read, so a connection that sends no more data
// cannot hold the session open. No further chunk is written once interrupt
// returns.
func (s *session) interrupt() {
	s.stop.Store(true)
	s.abort()
	<-s.done
}

// abort closes the response body, if any, unblocking a pending Read.
func (s *session) abort() {
	s.mu.Lock()
	if s.body != nil {
		s.body.Close()
	}
	s.mu.Unlock()
}

// run executes the attempt: open the response and the destination file, then
// stream until end-of-body, error, stall or stop request.
func (s *session) run(ctx context.Context) error {
	defer close(s.done)

	if err := s.open(ctx); err != nil {
		return err
	}
	defer s.close()

	s.lastRead.Store(time.Now().UnixNano())
	watchStop := make(chan struct{})
	go s.watch(watchStop)
	defer close(watchStop)

	return s.stream()
}

func (s *session) open(ctx context.Context) error {

	req, err := newRequest(ctx, s.task.URL, s.offset, s.task.Token)
	if err != nil {
		return err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return classifyRequestError(err)
	}

	switch {
	case res.StatusCode >= 500:
		res.Body.Close()
		return netError(fmt.Errorf("response status %d", res.StatusCode))

	case res.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		res.Body.Close()
		return ErrRangeNotSupported

	case res.StatusCode == http.StatusPartialContent:
		// Range honored.

	case res.StatusCode == http.StatusOK:
		// A 200 on a range request means the server ignored the range
		// unless it still advertises one via Content-Range.
		if s.offset > 0 && res.Header.Get("Content-Range") == "" {
			res.Body.Close()
			return ErrRangeNotSupported
		}

	default:
		res.Body.Close()
		return fmt.Errorf("haul: response status %d", res.StatusCode)
	}

	s.mu.Lock()
	s.body = res.Body
	s.mu.Unlock()

	if s.offset > 0 {
		s.file, err = os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0644)
	} else {
		s.file, err = os.Create(s.path)
	}
	if err != nil {
		s.abort()
		return storageError(err)
	}

	return nil
}

// watch closes the body when no byte has arrived for the stall duration,
// forcing the pending Read to fail so the attempt surfaces a network error
// instead of hanging on a dead connection.
func (s *session) watch(stop <-chan struct{}) {
	tick := time.NewTicker(s.stall / 4)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			last := time.Unix(0, s.lastRead.Load())
			if time.Since(last) >= s.stall {
				s.stalled.Store(true)
				s.abort()
				return
			}
		}
	}
}

// stream copies the body into the destination file in fixed-size chunks,
// reporting each chunk and checking the stop flag in between. A zero-byte
// body is a clean end-of-stream: on resume it means the server had already
// served everything.
func (s *session) stream() error {

	buf := make([]byte, chunkSize)

	for {
		if s.stop.Load() {
			return ErrCancelled
		}

		n, rerr := s.body.Read(buf)
		s.lastRead.Store(time.Now().UnixNano())

		if n > 0 {
			if _, werr := s.file.Write(buf[:n]); werr != nil {
				return storageError(werr)
			}
			s.rep.Add(n)
		}

		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			if s.stop.Load() {
				return ErrCancelled
			}
			if s.stalled.Load() {
				return netError(fmt.Errorf("no data received for %s", s.stall))
			}
			return classifyReadError(rerr)
		}
	}
}

func (s *session) close() {
	s.abort()
	if s.file != nil {
		s.file.Close()
	}
}
