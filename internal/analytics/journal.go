package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

// RecordLog is the durable, append-only CompletedCallRecord stream.
// Append must be idempotent on RecordID.
type RecordLog interface {
	Append(ctx context.Context, rec CompletedCallRecord) error
	// Replay streams every record that ended at or after since (zero means all).
	Replay(ctx context.Context, since time.Time, fn func(CompletedCallRecord) error) error
}

type journalObserver interface {
	ObserveRecordAppend(result string)
}

// Journal writes records to a RecordLog in the background, retrying failed
// appends with exponential backoff. Submit never blocks the caller.
type Journal struct {
	log         RecordLog
	logger      *logging.Logger
	metrics     journalObserver
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu      sync.Mutex
	pending []CompletedCallRecord
	signal  chan struct{}
	drainMu sync.Mutex
}

// NewJournal creates a journal over log.
func NewJournal(log RecordLog, logger *logging.Logger) *Journal {
	if log == nil {
		panic("analytics: record log required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Journal{
		log:       log,
		logger:    logger,
		baseDelay: 500 * time.Millisecond,
		maxDelay:  30 * time.Second,
		signal:    make(chan struct{}, 1),
	}
}

// WithMaxAttempts caps append attempts per record; zero retries forever.
// A dropped record stays counted in memory but is missing from Rebuild.
func (j *Journal) WithMaxAttempts(n int) *Journal {
	if n >= 0 {
		j.maxAttempts = n
	}
	return j
}

func (j *Journal) WithBaseDelay(d time.Duration) *Journal {
	if d > 0 {
		j.baseDelay = d
	}
	return j
}

func (j *Journal) WithMaxDelay(d time.Duration) *Journal {
	if d > 0 {
		j.maxDelay = d
	}
	return j
}

func (j *Journal) WithMetrics(m journalObserver) *Journal {
	j.metrics = m
	return j
}

// Submit queues rec for durable storage.
func (j *Journal) Submit(rec CompletedCallRecord) {
	j.mu.Lock()
	j.pending = append(j.pending, rec)
	j.mu.Unlock()
	select {
	case j.signal <- struct{}{}:
	default:
	}
}

// Pending reports the number of records not yet written.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Run drains queued records until ctx is done.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.signal:
			_ = j.Flush(ctx)
		}
	}
}

// Flush writes every queued record, returning early only if ctx ends.
func (j *Journal) Flush(ctx context.Context) error {
	j.drainMu.Lock()
	defer j.drainMu.Unlock()
	for {
		rec, ok := j.next()
		if !ok {
			return nil
		}
		if err := j.appendWithRetry(ctx, rec); err != nil {
			j.requeue(rec)
			return err
		}
	}
}

func (j *Journal) next() (CompletedCallRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 {
		return CompletedCallRecord{}, false
	}
	rec := j.pending[0]
	j.pending = j.pending[1:]
	return rec, true
}

func (j *Journal) requeue(rec CompletedCallRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = append([]CompletedCallRecord{rec}, j.pending...)
}

func (j *Journal) appendWithRetry(ctx context.Context, rec CompletedCallRecord) error {
	for attempt := 0; ; attempt++ {
		err := j.log.Append(ctx, rec)
		if err == nil {
			j.observe("ok")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.observe("error")
		if j.maxAttempts > 0 && attempt+1 >= j.maxAttempts {
			j.observe("dropped")
			j.logger.Error("call record append abandoned",
				"record_id", rec.RecordID,
				"session_id", rec.SessionID,
				"attempts", attempt+1,
				"error", err,
			)
			return nil
		}
		delay := j.nextDelay(attempt)
		j.logger.Warn("call record append failed, retrying",
			"record_id", rec.RecordID,
			"attempt", attempt+1,
			"retry_in", delay.String(),
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (j *Journal) nextDelay(attempt int) time.Duration {
	if attempt > 30 {
		return j.maxDelay
	}
	delay := j.baseDelay * time.Duration(1<<attempt)
	if delay > j.maxDelay || delay <= 0 {
		delay = j.maxDelay
	}
	return delay
}

func (j *Journal) observe(result string) {
	if j.metrics == nil {
		return
	}
	j.metrics.ObserveRecordAppend(result)
}
