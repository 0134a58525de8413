package analytics

import (
	"context"
	"sync"
	"time"
)

// MemoryRecordLog keeps records in process memory. It backs development and
// tests; a restart loses its contents.
type MemoryRecordLog struct {
	mu      sync.Mutex
	records []CompletedCallRecord
	ids     map[string]struct{}
}

// NewMemoryRecordLog creates an empty in-memory log.
func NewMemoryRecordLog() *MemoryRecordLog {
	return &MemoryRecordLog{ids: make(map[string]struct{})}
}

var _ RecordLog = (*MemoryRecordLog)(nil)

func (m *MemoryRecordLog) Append(_ context.Context, rec CompletedCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.RecordID != "" {
		if _, ok := m.ids[rec.RecordID]; ok {
			return nil
		}
		m.ids[rec.RecordID] = struct{}{}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryRecordLog) Replay(ctx context.Context, since time.Time, fn func(CompletedCallRecord) error) error {
	m.mu.Lock()
	records := append([]CompletedCallRecord(nil), m.records...)
	m.mu.Unlock()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !since.IsZero() && rec.EndedAt.Before(since) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of stored records.
func (m *MemoryRecordLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
