package haul

import (
	"sync/atomic"
	"time"
)

// Update is one progress sample for a task. Samples for a single task are
// delivered in non-decreasing BytesDownloaded order.
type Update struct {
	TaskID string

	// Percent complete, 0..100. -1 when the total size is unknown.
	Percent int

	// BytesDownloaded is cumulative and file-absolute: a resumed session
	// starts counting at its resume offset.
	BytesDownloaded int64

	// TotalBytes is the expected size, 0 when unknown.
	TotalBytes int64

	// RateBytesPerSec is the transfer rate over the session's wall time.
	RateBytesPerSec int64

	// ETASeconds is the estimated remaining time. -1 when unknown.
	ETASeconds int64
}

// Reporter accumulates byte counters into throttled rate/ETA samples. It
// pushes at most one update per interval onto the channel and never blocks
// the transferring worker: when the consumer lags, intermediate samples are
// dropped. The terminal sample from Finish waits briefly for a lagging
// consumer instead, since it is the completion signal.
//
// Add and Finish must be called from the transfer goroutine only. Bytes and
// Percent are safe from any goroutine.
type Reporter struct {
	taskID   string
	total    int64
	offset   int64
	interval time.Duration
	out      chan<- Update

	size atomic.Int64

	startedAt   time.Time
	lastEmit    time.Time
	lastPercent int
	finished    bool
}

// DefaultProgressInterval throttles updates to once per wall-clock second.
const DefaultProgressInterval = time.Second

// finalSampleWait bounds how long the terminal sample waits for a lagging
// consumer before it is dropped after all.
const finalSampleWait = time.Second

// NewReporter returns a reporter for one session starting at the given byte
// offset. out may be nil when nobody listens.
func NewReporter(taskID string, total, offset int64, out chan<- Update, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	now := time.Now()
	r := &Reporter{
		taskID:    taskID,
		total:     total,
		offset:    offset,
		interval:  interval,
		out:       out,
		startedAt: now,
		lastEmit:  now,
	}
	r.size.Store(offset)
	return r
}

// Add records n freshly written bytes and emits a throttled sample.
func (r *Reporter) Add(n int) {
	size := r.size.Add(int64(n))

	now := time.Now()
	if now.Sub(r.lastEmit) < r.interval {
		return
	}
	r.lastEmit = now
	r.emit(size, now, false)
}

// Finish emits the final 100%-complete sample exactly once.
func (r *Reporter) Finish() {
	if r.finished {
		return
	}
	r.finished = true

	size := r.size.Load()
	if r.total > 0 {
		// The body may have been shorter than a full chunk; trust the
		// declared total for the terminal sample.
		size = r.total
		r.lastPercent = 100
	}
	r.emit(size, time.Now(), true)
}

// Bytes returns the cumulative byte count, including the resume offset.
func (r *Reporter) Bytes() int64 {
	return r.size.Load()
}

// Percent returns the whole-number completion percentage, -1 when the total
// size is unknown.
func (r *Reporter) Percent() int {
	if r.total <= 0 {
		return -1
	}
	p := int(r.size.Load() * 100 / r.total)
	if p > 100 {
		p = 100
	}
	return p
}

func (r *Reporter) emit(size int64, now time.Time, final bool) {
	if r.out == nil {
		return
	}

	u := Update{
		TaskID:          r.taskID,
		Percent:         -1,
		BytesDownloaded: size,
		TotalBytes:      r.total,
		ETASeconds:      -1,
	}

	if elapsed := now.Sub(r.startedAt).Seconds(); elapsed > 0 {
		u.RateBytesPerSec = int64(float64(size-r.offset) / elapsed)
	}

	if r.total > 0 {
		p := int(size * 100 / r.total)
		if p > 100 {
			p = 100
		}
		// Never report a percent lower than one already reported.
		if p < r.lastPercent {
			p = r.lastPercent
		}
		r.lastPercent = p
		u.Percent = p

		if u.RateBytesPerSec > 0 {
			u.ETASeconds = (r.total - size) / u.RateBytesPerSec
		}
	}

	if final {
		t := time.NewTimer(finalSampleWait)
		defer t.Stop()
		select {
		case r.out <- u:
		case <-t.C:
		}
		return
	}

	select {
	case r.out <- u:
	default:
		// Consumer is behind; drop the sample rather than stall the
		// transfer.
	}
}
