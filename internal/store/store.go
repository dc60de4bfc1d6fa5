// Package store persists generation targets, rubric items, and streamed response
// chunks with gorm. Lifecycle writes go through the domain transition functions
// inside a transaction so that an illegal move is rejected before any column
// changes. The sqlite driver is the default backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ahrav/go-canvas/internal/domain"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// busyTimeoutMillis makes sqlite wait for a competing writer instead of failing.
const busyTimeoutMillis = 5000

// Open connects to the sqlite database at path and migrates the schema.
// Sqlite permits a single writer, so the pool is pinned to one connection and
// transactions serialize instead of failing with SQLITE_BUSY.
func Open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMillis)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables owned by this package.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&targetRecord{}, &evalRecord{}, &chunkRecord{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SQLStore implements the target and rubric persistence used by the generation,
// judging, and aggregation components.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithClock overrides the wall clock used for store-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) { s.now = now }
}

// New returns a SQLStore backed by db.
func New(db *gorm.DB, opts ...Option) *SQLStore {
	s := &SQLStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTarget scaffolds a target together with its rubric.
func (s *SQLStore) CreateTarget(ctx context.Context, t domain.Target, evals []domain.EvalItem) error {
	rec := targetRecord{
		ID:               t.ID,
		Prompt:           t.Prompt,
		Model:            t.Model,
		ResponseStatus:   string(domain.ResponseIdle),
		EvalsStatus:      string(domain.EvalsIdle),
		SuccessThreshold: t.SuccessThreshold,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("create target %s: %w", t.ID, err)
		}
		for i, e := range evals {
			e.TargetID = t.ID
			if e.Position == 0 {
				e.Position = i
			}
			er := evalRecordFrom(e)
			if err := tx.Create(&er).Error; err != nil {
				return fmt.Errorf("create eval %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// GetTarget loads one target.
func (s *SQLStore) GetTarget(ctx context.Context, id string) (domain.Target, error) {
	rec, err := loadTarget(s.db.WithContext(ctx), id)
	if err != nil {
		return domain.Target{}, err
	}
	return rec.toDomain(), nil
}

func loadTarget(tx *gorm.DB, id string) (targetRecord, error) {
	var rec targetRecord
	err := tx.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return targetRecord{}, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return targetRecord{}, fmt.Errorf("load target %s: %w", id, err)
	}
	return rec, nil
}

func loadEvals(tx *gorm.DB, targetID string) ([]domain.EvalItem, error) {
	var recs []evalRecord
	if err := tx.Where("target_id = ?", targetID).Order("position ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load evals for %s: %w", targetID, err)
	}
	items := make([]domain.EvalItem, len(recs))
	for i, r := range recs {
		items[i] = r.toDomain()
	}
	return items, nil
}
