package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	sessionKeyPrefix    = "voice:session:"
	transcriptKeySuffix = ":transcript"
	defaultMirrorTTL    = 24 * time.Hour
)

// RedisMirror stores session snapshots and transcripts in Redis so they stay
// readable after the registry evicts the session.
type RedisMirror struct {
	rdb    *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisMirror returns nil when no client is configured.
func NewRedisMirror(rdb *redis.Client, ttl time.Duration) *RedisMirror {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &RedisMirror{
		rdb:    rdb,
		ttl:    ttl,
		tracer: otel.Tracer("voice.internal.voice.mirror"),
	}
}

var _ SessionMirror = (*RedisMirror)(nil)

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func transcriptKey(sessionID string) string {
	return sessionKeyPrefix + sessionID + transcriptKeySuffix
}

// SaveSnapshot overwrites the stored snapshot. The transcript is stored
// separately and is not part of the value.
func (m *RedisMirror) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if m == nil {
		return nil
	}
	if snap.SessionID == "" {
		return errors.New("voice: mirror session id required")
	}
	snap.Transcript = nil
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("voice: marshal session snapshot: %w", err)
	}

	ctx, span := m.tracer.Start(ctx, "voice.mirror.save")
	defer span.End()
	span.SetAttributes(attribute.String("voice.session_id", snap.SessionID))

	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(snap.SessionID), data, m.ttl)
	pipe.Expire(ctx, transcriptKey(snap.SessionID), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("voice: save session snapshot: %w", err)
	}
	return nil
}

// AppendTranscript pushes events onto the session's transcript list. With
// reset the list is cleared first in the same transaction, so a session
// re-created under an evicted id starts from an empty transcript.
func (m *RedisMirror) AppendTranscript(ctx context.Context, sessionID string, reset bool, events ...TranscriptEvent) error {
	if m == nil || (!reset && len(events) == 0) {
		return nil
	}
	if sessionID == "" {
		return errors.New("voice: mirror session id required")
	}
	values := make([]any, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("voice: marshal transcript event: %w", err)
		}
		values = append(values, data)
	}

	ctx, span := m.tracer.Start(ctx, "voice.mirror.append_transcript")
	defer span.End()
	span.SetAttributes(
		attribute.String("voice.session_id", sessionID),
		attribute.Int("voice.events", len(events)),
		attribute.Bool("voice.reset", reset),
	)

	key := transcriptKey(sessionID)
	pipe := m.rdb.TxPipeline()
	if reset {
		pipe.Del(ctx, key)
	}
	if len(values) > 0 {
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("voice: append transcript: %w", err)
	}
	return nil
}

// Load returns nil, nil when nothing is stored for the session.
func (m *RedisMirror) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if m == nil {
		return nil, nil
	}
	data, err := m.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("voice: get session snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("voice: decode session snapshot: %w", err)
	}

	raw, err := m.rdb.LRange(ctx, transcriptKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("voice: get transcript: %w", err)
	}
	snap.Transcript = make([]TranscriptEvent, 0, len(raw))
	for _, item := range raw {
		var ev TranscriptEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		snap.Transcript = append(snap.Transcript, ev)
	}
	sort.Slice(snap.Transcript, func(i, j int) bool {
		return snap.Transcript[i].Sequence < snap.Transcript[j].Sequence
	})
	return &snap, nil
}
