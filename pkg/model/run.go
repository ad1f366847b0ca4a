package model

import "time"

// RunStatus is the outcome of a persisted run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	// RunStatusPartial means at least one blob was excluded.
	RunStatusPartial  RunStatus = "partial"
	RunStatusCanceled RunStatus = "canceled"
)

// Run is the persisted summary of one breakdown run. The tree itself is
// not stored; ReportKey points at the uploaded report when there is one.
type Run struct {
	ID             int64             `json:"id"`
	UUID           string            `json:"uuid"`
	Container      string            `json:"container"`
	Granularity    string            `json:"granularity"`
	Version        string            `json:"version"`
	Status         RunStatus         `json:"status"`
	TotalSize      uint64            `json:"total_size"`
	AttributedSize uint64            `json:"attributed_size"`
	BlobCount      int               `json:"blob_count"`
	ClassCount     int               `json:"class_count"`
	ReportKey      string            `json:"report_key,omitempty"`
	Categories     []CategorySummary `json:"categories,omitempty"`
	Failures       []BlobFailure     `json:"failures,omitempty"`
	Duration       time.Duration     `json:"duration_ns"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewRun summarizes a report for persistence.
func NewRun(r *Report, version string, duration time.Duration) *Run {
	run := &Run{
		UUID:           r.RunUUID,
		Container:      r.Container,
		Granularity:    r.Granularity,
		Version:        version,
		Status:         RunStatusCompleted,
		TotalSize:      r.TotalSize,
		AttributedSize: r.AttributedSize,
		BlobCount:      len(r.Blobs) + len(r.Failures),
		Categories:     r.Categories,
		Failures:       r.Failures,
		Duration:       duration,
		CreatedAt:      r.GeneratedAt,
	}
	for _, b := range r.Blobs {
		run.ClassCount += b.Classes
	}
	if r.HasFailures() {
		run.Status = RunStatusPartial
	}
	return run
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Container string
	Limit     int
}
