package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/dex-analysis/pkg/errors"
	"github.com/dex-analysis/pkg/model"
)

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 50

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// AutoMigrate creates or updates the run tables.
func (r *GormRunRepository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&BreakdownRun{}, &BlobFailureRecord{}); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to migrate run tables", err)
	}
	return nil
}

// SaveRun inserts the run and its failures in one transaction.
func (r *GormRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	rec, err := newBreakdownRun(run)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to encode run", err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save run "+run.UUID, err)
	}

	run.ID = rec.ID
	return nil
}

// GetRunByUUID retrieves a run with its failures.
func (r *GormRunRepository) GetRunByUUID(ctx context.Context, uuid string) (*model.Run, error) {
	var rec BreakdownRun

	err := r.db.WithContext(ctx).
		Preload("Failures", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("uuid = ?", uuid).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "run not found: %s", uuid)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get run", err)
	}

	run, err := rec.ToModel()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to decode run "+uuid, err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first.
func (r *GormRunRepository) ListRuns(ctx context.Context, filter model.RunFilter) ([]*model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := r.db.WithContext(ctx).Model(&BreakdownRun{})
	if filter.Container != "" {
		q = q.Where("container = ?", filter.Container)
	}

	var recs []BreakdownRun
	if err := q.Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query runs", err)
	}

	runs := make([]*model.Run, 0, len(recs))
	for i := range recs {
		run, err := recs[i].ToModel()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to decode run "+recs[i].UUID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
