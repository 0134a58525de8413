package analytics

import (
	"fmt"
	"strings"
	"time"
)

// BucketSelector picks which bucket of a period a report covers.
type BucketSelector string

const (
	// BucketCurrent is the open bucket containing now; its report is provisional.
	BucketCurrent BucketSelector = "current"
	// BucketPrevious is the most recently closed bucket.
	BucketPrevious BucketSelector = "previous"
)

// ParseBucketSelector defaults an empty selector to BucketCurrent.
func ParseBucketSelector(raw string) (BucketSelector, error) {
	switch s := BucketSelector(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return BucketCurrent, nil
	case BucketCurrent, BucketPrevious:
		return s, nil
	default:
		return "", fmt.Errorf("analytics: unknown bucket %q", raw)
	}
}

// PerformanceReport summarizes one bucket.
type PerformanceReport struct {
	Period        Period    `json:"period"`
	AgentID       string    `json:"agentId"`
	BucketStart   time.Time `json:"bucketStart"`
	BucketEnd     time.Time `json:"bucketEnd"`
	CallCount     int64     `json:"callCount"`
	FailureCount  int64     `json:"failureCount"`
	AvgDurationMs float64   `json:"avgDurationMs"`
	FailureRate   float64   `json:"failureRate"`
	Provisional   bool      `json:"provisional"`
}

type windowReader interface {
	Window(period Period, bucketStart time.Time, agentID string) (Window, bool)
	Location() *time.Location
}

// ReportGenerator answers read-only queries over aggregator windows.
type ReportGenerator struct {
	windows windowReader
	now     func() time.Time
}

func NewReportGenerator(windows windowReader) *ReportGenerator {
	if windows == nil {
		panic("analytics: window reader required")
	}
	return &ReportGenerator{windows: windows, now: time.Now}
}

// Generate builds the report for period and agentID (empty means all agents).
func (g *ReportGenerator) Generate(period Period, agentID string, bucket BucketSelector) (PerformanceReport, error) {
	period, err := ParsePeriod(string(period))
	if err != nil {
		return PerformanceReport{}, err
	}
	bucket, err = ParseBucketSelector(string(bucket))
	if err != nil {
		return PerformanceReport{}, err
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		agentID = AllAgents
	}

	loc := g.windows.Location()
	start := BucketStart(period, g.now(), loc)
	provisional := true
	if bucket == BucketPrevious {
		start = PreviousBucketStart(period, start, loc)
		provisional = false
	}

	w, _ := g.windows.Window(period, start, agentID)
	report := PerformanceReport{
		Period:       period,
		AgentID:      agentID,
		BucketStart:  start,
		BucketEnd:    BucketEnd(period, start),
		CallCount:    w.CallCount,
		FailureCount: w.FailureCount,
		Provisional:  provisional,
	}
	if w.CallCount > 0 {
		report.AvgDurationMs = float64(w.TotalDurationMs) / float64(w.CallCount)
		report.FailureRate = float64(w.FailureCount) / float64(w.CallCount)
	}
	return report, nil
}
