package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/fishid/internal/logging"
)

// CatalogKey is the single key under which the whole catch catalog is stored.
const CatalogKey = "catch_catalog"

// CatalogEntry is a row of the key-value table backing catalog persistence.
type CatalogEntry struct {
	Key       string    `gorm:"column:key;primaryKey;size:64"`
	Value     []byte    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (CatalogEntry) TableName() string {
	return "catalog_entries"
}

// ErrCatalogMissing indicates no catalog has been persisted yet.
var ErrCatalogMissing = errors.New("catalog missing")

// CatalogRepository persists the serialized catch catalog in a local
// key-value table.
type CatalogRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewCatalogRepository creates a new repository instance.
func NewCatalogRepository(db *gorm.DB, logger *zap.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:             db,
		logger:         logger.Named("catalog_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *CatalogRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CatalogEntry{})
}

// SaveCatalog upserts the serialized catalog under CatalogKey.
func (r *CatalogRepository) SaveCatalog(ctx context.Context, payload []byte) error {
	entry := CatalogEntry{Key: CatalogKey, Value: payload, UpdatedAt: time.Now().UTC()}
	return r.executeWithRetry(ctx, "repository.save_catalog", CatalogKey, func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).
			Create(&entry).Error
	})
}

// LoadCatalog returns the serialized catalog, or ErrCatalogMissing when
// nothing has been persisted yet.
func (r *CatalogRepository) LoadCatalog(ctx context.Context) ([]byte, error) {
	var entry CatalogEntry
	err := r.executeWithRetry(ctx, "repository.load_catalog", CatalogKey, func() error {
		return r.db.WithContext(ctx).First(&entry, "key = ?", CatalogKey).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCatalogMissing
		}
		return nil, err
	}
	return entry.Value, nil
}

// executeWithRetry retries fn with exponential backoff on transient errors.
// Permanent errors and exhausted attempts are wrapped with operation metadata.
func (r *CatalogRepository) executeWithRetry(ctx context.Context, operation, key string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, key, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, key)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, key, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("storage operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			opLogger.Error("storage operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, key, err)
		}

		opLogger.Warn("transient storage error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, key, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
