// Package repository persists breakdown run summaries.
package repository

import (
	"context"

	"github.com/dex-analysis/pkg/model"
)

// RunRepository stores and queries run summaries.
type RunRepository interface {
	// SaveRun inserts run with its failures and sets run.ID.
	SaveRun(ctx context.Context, run *model.Run) error

	// GetRunByUUID returns a run with its failures in container order.
	GetRunByUUID(ctx context.Context, uuid string) (*model.Run, error)

	// ListRuns returns runs newest first. Failures are not loaded.
	ListRuns(ctx context.Context, filter model.RunFilter) ([]*model.Run, error)
}
