package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

// AllAgents is the wildcard agent key that accumulates every record.
const AllAgents = "*"

// WindowKey identifies one analytics bucket.
type WindowKey struct {
	Period      Period    `json:"period"`
	BucketStart time.Time `json:"bucket_start"`
	AgentID     string    `json:"agent_id"`
}

// Window holds the running counters of one bucket.
type Window struct {
	WindowKey
	CallCount       int64 `json:"call_count"`
	TotalDurationMs int64 `json:"total_duration_ms"`
	FailureCount    int64 `json:"failure_count"`
}

type cellKey struct {
	period  Period
	start   int64
	agentID string
}

type cell struct {
	mu     sync.Mutex
	window Window
	// pruned is set under mu once the cell has been removed from its map.
	pruned bool
}

// add reports false when the cell was pruned; the caller must fetch a live one.
func (c *cell) add(rec CompletedCallRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pruned {
		return false
	}
	c.window.CallCount++
	c.window.TotalDurationMs += rec.DurationMs
	if rec.Failed() {
		c.window.FailureCount++
	}
	return true
}

func (c *cell) snapshot() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

type recordSubmitter interface {
	Submit(rec CompletedCallRecord)
}

type aggregatorObserver interface {
	ObserveRecorded(agentID string, status string)
}

// Aggregator keeps calendar-bucketed counters per agent and for all agents.
// Each bucket key has its own lock; unrelated agents never contend.
type Aggregator struct {
	loc       *time.Location
	retention time.Duration
	cells     atomic.Pointer[sync.Map]
	journal   recordSubmitter
	metrics   aggregatorObserver
	logger    *logging.Logger
	now       func() time.Time
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	Location *time.Location
	// Retention drops buckets that ended longer ago than this. Zero keeps everything.
	Retention time.Duration
	// Journal durably records every CompletedCallRecord passed to Record.
	Journal recordSubmitter
	Metrics aggregatorObserver
	Logger  *logging.Logger
}

// NewAggregator builds an empty aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	a := &Aggregator{
		loc:       cfg.Location,
		retention: cfg.Retention,
		journal:   cfg.Journal,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	a.cells.Store(&sync.Map{})
	return a
}

// Location is the timezone buckets are aligned to.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Record folds rec into exactly one bucket per period for both the agent key
// and the wildcard key, then hands it to the journal for durable storage.
func (a *Aggregator) Record(rec CompletedCallRecord) {
	a.apply(a.cells.Load(), rec, a.now())
	if a.journal != nil {
		a.journal.Submit(rec)
	}
	if a.metrics != nil {
		a.metrics.ObserveRecorded(rec.AgentID, string(rec.FinalStatus))
	}
}

func (a *Aggregator) apply(cells *sync.Map, rec CompletedCallRecord, now time.Time) bool {
	agents := []string{AllAgents}
	if rec.AgentID != "" && rec.AgentID != AllAgents {
		agents = append(agents, rec.AgentID)
	}
	applied := false
	for _, period := range Periods {
		start := BucketStart(period, rec.EndedAt, a.loc)
		if a.expired(period, start, now) {
			continue
		}
		for _, agentID := range agents {
			for !a.cellFor(cells, period, start, agentID).add(rec) {
			}
			applied = true
		}
	}
	return applied
}

func (a *Aggregator) cellFor(cells *sync.Map, period Period, start time.Time, agentID string) *cell {
	key := cellKey{period: period, start: start.Unix(), agentID: agentID}
	if existing, ok := cells.Load(key); ok {
		return existing.(*cell)
	}
	fresh := &cell{window: Window{WindowKey: WindowKey{Period: period, BucketStart: start, AgentID: agentID}}}
	actual, _ := cells.LoadOrStore(key, fresh)
	return actual.(*cell)
}

func (a *Aggregator) expired(period Period, start, now time.Time) bool {
	if a.retention <= 0 {
		return false
	}
	return BucketEnd(period, start).Before(now.Add(-a.retention))
}

// Window returns the counters of one bucket. bucketStart may be any instant
// inside the bucket.
func (a *Aggregator) Window(period Period, bucketStart time.Time, agentID string) (Window, bool) {
	if agentID == "" {
		agentID = AllAgents
	}
	start := BucketStart(period, bucketStart, a.loc)
	v, ok := a.cells.Load().Load(cellKey{period: period, start: start.Unix(), agentID: agentID})
	if !ok {
		return Window{WindowKey: WindowKey{Period: period, BucketStart: start, AgentID: agentID}}, false
	}
	return v.(*cell).snapshot(), true
}

// Windows returns a snapshot of every bucket ordered by period, start, agent.
func (a *Aggregator) Windows() []Window {
	var out []Window
	a.cells.Load().Range(func(_, v any) bool {
		out = append(out, v.(*cell).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.Before(out[j].BucketStart)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// Rebuild replays the durable record stream into empty windows and swaps them
// in. Rollups are additive, so replay order does not matter. It is meant to run
// before sessions are served.
func (a *Aggregator) Rebuild(ctx context.Context, log RecordLog) (int, error) {
	now := a.now()
	var since time.Time
	if a.retention > 0 {
		since = BucketStart(PeriodMonthly, now.Add(-a.retention), a.loc)
	}
	fresh := &sync.Map{}
	seen := make(map[string]struct{})
	count := 0
	err := log.Replay(ctx, since, func(rec CompletedCallRecord) error {
		if rec.RecordID != "" {
			if _, dup := seen[rec.RecordID]; dup {
				return nil
			}
			seen[rec.RecordID] = struct{}{}
		}
		if a.apply(fresh, rec, now) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("analytics: rebuild: %w", err)
	}
	a.cells.Store(fresh)
	a.logger.Info("analytics windows rebuilt", "records", count)
	return count, nil
}

// Prune drops buckets outside the retention horizon and reports how many were removed.
func (a *Aggregator) Prune(now time.Time) int {
	if a.retention <= 0 {
		return 0
	}
	removed := 0
	cells := a.cells.Load()
	cells.Range(func(k, v any) bool {
		c := v.(*cell)
		c.mu.Lock()
		if a.expired(c.window.Period, c.window.BucketStart, now) {
			cells.Delete(k)
			c.pruned = true
			removed++
		}
		c.mu.Unlock()
		return true
	})
	return removed
}

// RunRetention prunes expired buckets every interval until ctx is done.
func (a *Aggregator) RunRetention(ctx context.Context, interval time.Duration) {
	if a.retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Prune(a.now()); n > 0 {
				a.logger.Info("analytics windows pruned", "removed", n)
			}
		}
	}
}
