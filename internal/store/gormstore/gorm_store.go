// Package gormstore implements operation persistence on Gorm + SQLite.
// Every mutation is atomic with its persisted record: an operation and its
// legs are written in one transaction, so a crash never leaves an operation
// referencing an unknown venue order or vice versa.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tandem/internal/store"
	"tandem/internal/store/model"
)

type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.OperationModel{},
		&model.LegModel{},
		&model.AnomalyModel{},
		&model.DecisionLogModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little parallelism for concurrent reporting
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- Operations -------------------------

// InsertOperation writes the operation and its legs in one transaction and
// fills in the generated IDs.
func (s *Store) InsertOperation(ctx context.Context, op *model.OperationModel, legs []*model.LegModel) error {
	now := time.Now().Unix()
	op.CreatedAtUnix = now
	op.UpdatedAtUnix = now
	if op.Version == 0 {
		op.Version = 1
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(op).Error; err != nil {
			return err
		}
		for _, leg := range legs {
			leg.OperationID = op.ID
			leg.CreatedAtUnix = now
			leg.UpdatedAtUnix = now
			if err := tx.Create(leg).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindOpenOperation returns the non-archived operation for the triple, or
// ErrNotFound.
func (s *Store) FindOpenOperation(ctx context.Context, instrument string, agentID, profileID int) (*model.OperationModel, []*model.LegModel, error) {
	var op model.OperationModel
	err := s.db.WithContext(ctx).
		Where("instrument = ? AND agent_id = ? AND profile_id = ? AND archived_at IS NULL", instrument, agentID, profileID).
		Order("id DESC").
		First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	legs, err := s.legsFor(ctx, op.ID)
	if err != nil {
		return nil, nil, err
	}
	return &op, legs, nil
}

func (s *Store) GetOperation(ctx context.Context, id int64) (*model.OperationModel, []*model.LegModel, error) {
	var op model.OperationModel
	err := s.db.WithContext(ctx).First(&op, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	legs, err := s.legsFor(ctx, op.ID)
	if err != nil {
		return nil, nil, err
	}
	return &op, legs, nil
}

// ListOpenOperations returns all non-archived operations for an agent.
func (s *Store) ListOpenOperations(ctx context.Context, agentID int) ([]*model.OperationModel, error) {
	var ops []*model.OperationModel
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND archived_at IS NULL", agentID).
		Order("id ASC").
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// ListOperations returns recent operations regardless of archival, newest
// first, for the reporting API.
func (s *Store) ListOperations(ctx context.Context, instrument string, limit int) ([]*model.OperationModel, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if strings.TrimSpace(instrument) != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ops []*model.OperationModel
	if err := q.Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *Store) legsFor(ctx context.Context, operationID int64) ([]*model.LegModel, error) {
	var legs []*model.LegModel
	err := s.db.WithContext(ctx).
		Where("operation_id = ?", operationID).
		Order("id ASC").
		Find(&legs).Error
	if err != nil {
		return nil, err
	}
	return legs, nil
}

// Legs exposes an operation's legs for reporting.
func (s *Store) Legs(ctx context.Context, operationID int64) ([]*model.LegModel, error) {
	return s.legsFor(ctx, operationID)
}

// UpdateOperation applies the optimistic version check: the write succeeds
// only if the stored version still matches op.Version, and bumps it.
func (s *Store) UpdateOperation(ctx context.Context, op *model.OperationModel) error {
	now := time.Now().Unix()
	res := s.db.WithContext(ctx).
		Model(&model.OperationModel{}).
		Where("id = ? AND version = ?", op.ID, op.Version).
		Updates(map[string]interface{}{
			"status":          op.Status,
			"conversation_id": op.Conversation,
			"archived_at":     op.ArchivedAtUnix,
			"version":         op.Version + 1,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: operation id=%d version=%d", store.ErrVersionConflict, op.ID, op.Version)
	}
	op.Version++
	op.UpdatedAtUnix = now
	return nil
}

// UpdateLeg persists a leg mutation.
func (s *Store) UpdateLeg(ctx context.Context, leg *model.LegModel) error {
	now := time.Now().Unix()
	leg.UpdatedAtUnix = now
	return s.db.WithContext(ctx).
		Model(&model.LegModel{}).
		Where("id = ?", leg.ID).
		Updates(map[string]interface{}{
			"status":      leg.Status,
			"ticket":      leg.Ticket,
			"stop_loss":   leg.StopLoss,
			"take_profit": leg.TakeProfit,
			"updated_at":  now,
		}).Error
}

// --------------------- Anomalies -------------------------

func (s *Store) InsertAnomaly(ctx context.Context, rec *model.AnomalyModel) error {
	if rec.TSUnix == 0 {
		rec.TSUnix = time.Now().Unix()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) ListAnomalies(ctx context.Context, instrument string, limit int) ([]*model.AnomalyModel, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if strings.TrimSpace(instrument) != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []*model.AnomalyModel
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// --------------------- Decision log -------------------------

func (s *Store) InsertDecisionLog(ctx context.Context, rec *model.DecisionLogModel) error {
	if rec.TSUnix == 0 {
		rec.TSUnix = time.Now().Unix()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) ListDecisionLogs(ctx context.Context, instrument string, limit int) ([]*model.DecisionLogModel, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if strings.TrimSpace(instrument) != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []*model.DecisionLogModel
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
