package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/dex-analysis/pkg/model"
)

// BreakdownRun represents the breakdown_runs table.
type BreakdownRun struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UUID           string    `gorm:"column:uuid;type:varchar(64);uniqueIndex"`
	Container      string    `gorm:"column:container;type:varchar(1024);index"`
	Granularity    string    `gorm:"column:granularity;type:varchar(16)"`
	Version        string    `gorm:"column:version;type:varchar(32)"`
	Status         string    `gorm:"column:status;type:varchar(16)"`
	TotalSize      uint64    `gorm:"column:total_size"`
	AttributedSize uint64    `gorm:"column:attributed_size"`
	BlobCount      int       `gorm:"column:blob_count"`
	ClassCount     int       `gorm:"column:class_count"`
	ReportKey      string    `gorm:"column:report_key;type:varchar(512)"`
	Categories     JSONField `gorm:"column:categories;type:json"`
	DurationMs     int64     `gorm:"column:duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at"`

	Failures []BlobFailureRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for BreakdownRun.
func (BreakdownRun) TableName() string {
	return "breakdown_runs"
}

// BlobFailureRecord represents the blob_failures table.
type BlobFailureRecord struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    int64  `gorm:"column:run_id;index"`
	Position int    `gorm:"column:position"`
	Path     string `gorm:"column:path;type:varchar(1024)"`
	Kind     string `gorm:"column:kind;type:varchar(64)"`
	Message  string `gorm:"column:message;type:text"`
}

// TableName returns the table name for BlobFailureRecord.
func (BlobFailureRecord) TableName() string {
	return "blob_failures"
}

// newBreakdownRun converts a model.Run to its table form.
func newBreakdownRun(run *model.Run) (*BreakdownRun, error) {
	rec := &BreakdownRun{
		UUID:           run.UUID,
		Container:      run.Container,
		Granularity:    run.Granularity,
		Version:        run.Version,
		Status:         string(run.Status),
		TotalSize:      run.TotalSize,
		AttributedSize: run.AttributedSize,
		BlobCount:      run.BlobCount,
		ClassCount:     run.ClassCount,
		ReportKey:      run.ReportKey,
		DurationMs:     run.Duration.Milliseconds(),
		CreatedAt:      run.CreatedAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	if len(run.Categories) > 0 {
		data, err := json.Marshal(run.Categories)
		if err != nil {
			return nil, err
		}
		rec.Categories = data
	}

	for i, f := range run.Failures {
		rec.Failures = append(rec.Failures, BlobFailureRecord{
			Position: i,
			Path:     f.Path,
			Kind:     f.Kind,
			Message:  f.Message,
		})
	}
	return rec, nil
}

// ToModel converts BreakdownRun to model.Run.
func (r *BreakdownRun) ToModel() (*model.Run, error) {
	run := &model.Run{
		ID:             r.ID,
		UUID:           r.UUID,
		Container:      r.Container,
		Granularity:    r.Granularity,
		Version:        r.Version,
		Status:         model.RunStatus(r.Status),
		TotalSize:      r.TotalSize,
		AttributedSize: r.AttributedSize,
		BlobCount:      r.BlobCount,
		ClassCount:     r.ClassCount,
		ReportKey:      r.ReportKey,
		Duration:       time.Duration(r.DurationMs) * time.Millisecond,
		CreatedAt:      r.CreatedAt,
	}

	if r.Categories != nil {
		if err := json.Unmarshal(r.Categories, &run.Categories); err != nil {
			return nil, err
		}
	}

	for _, f := range r.Failures {
		run.Failures = append(run.Failures, model.BlobFailure{
			Path:    f.Path,
			Kind:    f.Kind,
			Message: f.Message,
		})
	}
	return run, nil
}

// JSONField is a custom type for handling JSON fields in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}
