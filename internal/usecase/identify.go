package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fishid/internal/catchstore"
	"github.com/example/fishid/internal/classifier"
	"github.com/example/fishid/internal/logging"
	"github.com/example/fishid/internal/preprocess"
)

// SpeciesClassifier scores a preprocessed image against the label vocabulary.
type SpeciesClassifier interface {
	Classify(buf *preprocess.PixelBuffer) ([]float64, error)
	Labels() []string
}

// IdentifyUseCase orchestrates the classification pipeline and the catch
// catalog. Identical images are served from a short-lived cache keyed by
// content hash, so re-classifying the same photo skips inference.
type IdentifyUseCase struct {
	classifier     SpeciesClassifier
	catches        *catchstore.Store
	cache          Cache
	logger         *zap.Logger
	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedPrediction struct {
	RequestID   string                   `json:"request_id"`
	Predictions []classifier.ScoredLabel `json:"predictions"`
	CreatedAt   time.Time                `json:"created_at"`
}

// NewIdentifyUseCase constructs a new use case instance.
func NewIdentifyUseCase(model SpeciesClassifier, catches *catchstore.Store, cache Cache, logger *zap.Logger) *IdentifyUseCase {
	return &IdentifyUseCase{
		classifier:     model,
		catches:        catches,
		cache:          cache,
		logger:         logger.Named("identify_usecase"),
		cacheTTL:       5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Identify runs imageBytes through preprocessing, inference, and top-K
// ranking. Pipeline failures abort the attempt and surface to the caller;
// cache failures are downgraded to a cold run.
func (uc *IdentifyUseCase) Identify(ctx context.Context, imageBytes []byte) (string, []classifier.ScoredLabel, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.identify", requestID)

	hash := sha1.Sum(imageBytes)
	cacheKey := fmt.Sprintf("prediction:%s", hex.EncodeToString(hash[:]))

	if cached, err := uc.withCacheGet(ctx, requestID, "cache.get.prediction", cacheKey); err == nil {
		var payload cachedPrediction
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached prediction", zap.Error(err))
		} else if len(payload.Predictions) > 0 {
			opLogger.Info("prediction served from cache")
			return requestID, payload.Predictions, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read prediction cache", zap.Error(err))
	}

	buf, err := preprocess.Preprocess(imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.preprocess", requestID, err)
		opLogger.Error("preprocessing failed", zap.Error(wrapped))
		return "", nil, wrapped
	}

	scores, err := uc.classifier.Classify(buf)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		opLogger.Error("classification failed", zap.Error(wrapped))
		return "", nil, wrapped
	}

	predictions, err := classifier.TopK(scores, uc.classifier.Labels(), classifier.DefaultTopK)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.rank", requestID, err)
		opLogger.Error("ranking failed", zap.Error(wrapped))
		return "", nil, wrapped
	}

	cached := cachedPrediction{
		RequestID:   requestID,
		Predictions: predictions,
		CreatedAt:   time.Now().UTC(),
	}
	if serialized, err := json.Marshal(cached); err != nil {
		opLogger.Warn("failed to serialize prediction for cache", zap.Error(err))
	} else if err := uc.withCacheRetry(ctx, requestID, "cache.set.prediction", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache prediction", zap.Error(err))
	}

	return requestID, predictions, nil
}

// CommitCatch promotes a prediction into a durable catch record.
func (uc *IdentifyUseCase) CommitCatch(ctx context.Context, species string, confidence float64, imageBytes []byte) (catchstore.CatchRecord, error) {
	return uc.catches.Add(ctx, species, confidence, imageBytes)
}

// RemoveCatches deletes catalog entries by position.
func (uc *IdentifyUseCase) RemoveCatches(ctx context.Context, indices []int) error {
	return uc.catches.Remove(ctx, indices)
}

// ListCatches returns the ordered catalog snapshot, most recent first.
func (uc *IdentifyUseCase) ListCatches() []catchstore.CatchRecord {
	return uc.catches.List()
}

// CatchImage loads the blob referenced by a catch record.
func (uc *IdentifyUseCase) CatchImage(key string) ([]byte, error) {
	return uc.catches.Image(key)
}

func (uc *IdentifyUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *IdentifyUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, redis.Nil) {
		return false
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
