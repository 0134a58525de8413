package analytics

import "time"

// FinalStatus is the terminal status a call ended in.
type FinalStatus string

const (
	FinalStatusEnded  FinalStatus = "Ended"
	FinalStatusFailed FinalStatus = "Failed"
)

// CompletedCallRecord is the immutable summary emitted once per session when
// it reaches a terminal state.
type CompletedCallRecord struct {
	RecordID         string      `json:"record_id"`
	SessionID        string      `json:"session_id"`
	AgentID          string      `json:"agent_id"`
	Language         string      `json:"language"`
	DurationMs       int64       `json:"duration_ms"`
	FinalStatus      FinalStatus `json:"final_status"`
	EndReason        string      `json:"end_reason,omitempty"`
	TranscriptLength int         `json:"transcript_length"`
	EndedAt          time.Time   `json:"ended_at"`
}

// Failed reports whether the record counts toward failure totals.
func (r CompletedCallRecord) Failed() bool {
	return r.FinalStatus == FinalStatusFailed
}
