package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workflow"
)

// runModel 对应 workflow_runs 表（见 internal/migration）
type runModel struct {
	RunID       string    `gorm:"column:run_id;primaryKey;size:64"`
	RequestType string    `gorm:"column:request_type;size:64;index:idx_workflow_runs_type_started,priority:1;not null"`
	Status      string    `gorm:"column:status;size:32;not null"`
	Outputs     string    `gorm:"column:outputs;type:text"`
	Errors      string    `gorm:"column:errors;type:text"`
	Steps       string    `gorm:"column:steps;type:text"`
	StartedAt   time.Time `gorm:"column:started_at;index:idx_workflow_runs_type_started,priority:2;not null"`
	FinishedAt  time.Time `gorm:"column:finished_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (runModel) TableName() string { return "workflow_runs" }

// GormStore persists records in a SQL database through gorm.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a store on db. The workflow_runs table must exist; see AutoMigrate.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "gorm_run_store"))}
}

// AutoMigrate creates the table for development databases that skip versioned migrations.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&runModel{})
}

// Append 实现 Store
func (s *GormStore) Append(ctx context.Context, rec Record) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	m, err := toModel(rec)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&runModel{}).Where("run_id = ?", rec.RunID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return duplicateError(rec.RunID)
		}
		return tx.Create(&m).Error
	})
	switch {
	case err == nil:
		s.logger.Debug("run recorded", zap.String("run_id", rec.RunID), zap.String("status", string(rec.Status)))
		return nil
	case types.IsKind(err, types.KindValidation):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return duplicateError(rec.RunID)
	default:
		return dbError(ctx, err)
	}
}

// Get 实现 Store
func (s *GormStore) Get(ctx context.Context, runID string) (Record, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, notFoundError(runID)
	}
	if err != nil {
		return Record{}, dbError(ctx, err)
	}
	return fromModel(m)
}

// List 实现 Store
func (s *GormStore) List(ctx context.Context, requestType string, limit int) ([]Record, error) {
	q := s.db.WithContext(ctx).Model(&runModel{})
	if requestType != "" {
		q = q.Where("request_type = ?", requestType)
	}
	var models []runModel
	if err := q.Order("started_at DESC").Order("run_id ASC").Limit(listLimit(limit)).Find(&models).Error; err != nil {
		return nil, dbError(ctx, err)
	}

	out := make([]Record, 0, len(models))
	for _, m := range models {
		rec, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toModel(rec Record) (runModel, error) {
	outputs, err := encode(rec.Outputs)
	if err != nil {
		return runModel{}, err
	}
	errs, err := encode(rec.Errors)
	if err != nil {
		return runModel{}, err
	}
	steps, err := encode(rec.Steps)
	if err != nil {
		return runModel{}, err
	}
	return runModel{
		RunID:       rec.RunID,
		RequestType: rec.RequestType,
		Status:      string(rec.Status),
		Outputs:     outputs,
		Errors:      errs,
		Steps:       steps,
		StartedAt:   rec.StartedAt.UTC(),
		FinishedAt:  rec.FinishedAt.UTC(),
	}, nil
}

func fromModel(m runModel) (Record, error) {
	rec := Record{
		RunID:       m.RunID,
		RequestType: m.RequestType,
		Status:      workflow.Status(m.Status),
		StartedAt:   m.StartedAt.UTC(),
		FinishedAt:  m.FinishedAt.UTC(),
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{m.Outputs, &rec.Outputs},
		{m.Errors, &rec.Errors},
		{m.Steps, &rec.Steps},
	} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Record{}, types.NewError(types.KindInternal, "stored run record is corrupt").WithCause(err)
		}
	}
	return rec, nil
}

// dbError 数据库不可用视为临时故障
func dbError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.FromContext(ctx)
	}
	return types.NewTransientError("run_store", "run store unavailable").WithCause(err)
}
