package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var recordLogTracer = otel.Tracer("voice.internal.analytics.recordlog")

type recordQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRecordLog persists CompletedCallRecords in the completed_call_records table.
type PostgresRecordLog struct {
	db recordQuerier
}

func NewPostgresRecordLog(pool *pgxpool.Pool) *PostgresRecordLog {
	if pool == nil {
		panic("analytics: pgx pool required")
	}
	return &PostgresRecordLog{db: pool}
}

func newPostgresRecordLogWithDB(db recordQuerier) *PostgresRecordLog {
	if db == nil {
		panic("analytics: db required")
	}
	return &PostgresRecordLog{db: db}
}

var _ RecordLog = (*PostgresRecordLog)(nil)

func (s *PostgresRecordLog) Append(ctx context.Context, rec CompletedCallRecord) error {
	ctx, span := recordLogTracer.Start(ctx, "analytics.postgres.append")
	defer span.End()
	span.SetAttributes(attribute.String("voice.record_id", rec.RecordID))

	query := `
		INSERT INTO completed_call_records
			(record_id, session_id, agent_id, language, duration_ms, final_status, end_reason, transcript_length, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (record_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query,
		rec.RecordID,
		rec.SessionID,
		rec.AgentID,
		rec.Language,
		rec.DurationMs,
		string(rec.FinalStatus),
		rec.EndReason,
		rec.TranscriptLength,
		rec.EndedAt.UTC(),
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("analytics: insert call record: %w", err)
	}
	return nil
}

func (s *PostgresRecordLog) Replay(ctx context.Context, since time.Time, fn func(CompletedCallRecord) error) error {
	query := `
		SELECT record_id, session_id, agent_id, language, duration_ms, final_status, end_reason, transcript_length, ended_at
		FROM completed_call_records
		WHERE ended_at >= $1
		ORDER BY ended_at, record_id
	`
	rows, err := s.db.Query(ctx, query, since.UTC())
	if err != nil {
		return fmt.Errorf("analytics: query call records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec CompletedCallRecord
		var status string
		if err := rows.Scan(
			&rec.RecordID,
			&rec.SessionID,
			&rec.AgentID,
			&rec.Language,
			&rec.DurationMs,
			&status,
			&rec.EndReason,
			&rec.TranscriptLength,
			&rec.EndedAt,
		); err != nil {
			return fmt.Errorf("analytics: scan call record: %w", err)
		}
		rec.FinalStatus = FinalStatus(status)
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
