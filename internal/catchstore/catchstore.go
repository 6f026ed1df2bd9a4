// Package catchstore owns the ordered catalog of catch records. All mutations
// go through one Store instance and are serialized; durable storage is a
// best-effort mirror of the in-memory state.
package catchstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fishid/internal/repository"
)

var (
	// ErrIndexOutOfRange indicates a removal index outside the current
	// catalog bounds. The call has no partial effect.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrPersistenceFailed indicates the catalog could not be written to
	// durable storage. In-memory state is not rolled back; the next
	// successful mutation re-syncs it.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// CatalogStorage is the durable key-value mirror of the catalog.
type CatalogStorage interface {
	SaveCatalog(ctx context.Context, payload []byte) error
	LoadCatalog(ctx context.Context) ([]byte, error)
}

// ImageStore manages the binary blobs referenced by catch records.
type ImageStore interface {
	Save(data []byte) (string, error)
	Load(key string) ([]byte, error)
	Delete(key string) error
}

// Observer receives the full ordered catalog snapshot after every mutation.
type Observer func(records []CatchRecord)

// Store is the single owner of the catch catalog. Records are ordered most
// recent first; insertion is always at the front.
type Store struct {
	storage CatalogStorage
	images  ImageStore
	logger  *zap.Logger

	mu        sync.Mutex
	records   []CatchRecord
	observers []Observer
}

// NewStore constructs a Store. Call Load once at startup to hydrate it.
func NewStore(storage CatalogStorage, images ImageStore, logger *zap.Logger) *Store {
	return &Store{
		storage: storage,
		images:  images,
		logger:  logger.Named("catchstore"),
	}
}

// Load hydrates the catalog from durable storage. A missing or undecodable
// catalog initializes an empty one; Load never fails the caller.
func (s *Store) Load(ctx context.Context) {
	records := s.readCatalog(ctx)

	s.mu.Lock()
	s.records = records
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("catalog loaded", zap.Int("records", len(snapshot)))
	s.notify(snapshot)
}

// Reload is Load exposed for recovering external changes to the backing store.
func (s *Store) Reload(ctx context.Context) {
	s.Load(ctx)
}

// Add persists imageBytes (when present), prepends a fresh record to the
// catalog, and mirrors the catalog to durable storage.
//
// A failed image save is downgraded: the record is still created, with no
// image reference. A failed catalog write returns the created record together
// with an ErrPersistenceFailed-wrapped error; the in-memory insertion stands.
func (s *Store) Add(ctx context.Context, species string, confidence float64, imageBytes []byte) (CatchRecord, error) {
	s.mu.Lock()

	imageRef := ""
	if len(imageBytes) > 0 {
		key, err := s.images.Save(imageBytes)
		if err != nil {
			// Losing the image must never block recording the catch.
			s.logger.Warn("image save failed, recording catch without image",
				zap.String("species", species), zap.Error(err))
		} else {
			imageRef = key
		}
	}

	record := CatchRecord{
		ID:         uuid.NewString(),
		Species:    species,
		Confidence: confidence,
		CaughtAt:   time.Now().UTC(),
		ImageRef:   imageRef,
	}

	s.records = append([]CatchRecord{record}, s.records...)
	snapshot := s.snapshotLocked()
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(snapshot)
	return record, err
}

// Remove deletes the records at the given zero-based positions, most recent
// first ordering. All indices are validated before anything is touched; a
// single out-of-range index fails the whole call with no partial effect.
// Associated blobs are deleted best-effort.
func (s *Store) Remove(ctx context.Context, indices []int) error {
	s.mu.Lock()

	unique := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(s.records) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %d (catalog size %d)", ErrIndexOutOfRange, idx, len(s.records))
		}
		unique[idx] = struct{}{}
	}
	if len(unique) == 0 {
		s.mu.Unlock()
		return nil
	}

	ordered := make([]int, 0, len(unique))
	for idx := range unique {
		ordered = append(ordered, idx)
	}
	// Descending so earlier removals never invalidate later indices.
	sort.Sort(sort.Reverse(sort.IntSlice(ordered)))

	for _, idx := range ordered {
		if ref := s.records[idx].ImageRef; ref != "" {
			if err := s.images.Delete(ref); err != nil {
				s.logger.Warn("image delete failed",
					zap.String("image_ref", ref), zap.Error(err))
			}
		}
		s.records = append(s.records[:idx], s.records[idx+1:]...)
	}

	snapshot := s.snapshotLocked()
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(snapshot)
	return err
}

// List returns a snapshot copy of the catalog, most recent first.
func (s *Store) List() []CatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Image loads the blob referenced by key.
func (s *Store) Image(key string) ([]byte, error) {
	return s.images.Load(key)
}

// Subscribe registers fn to be called with the new catalog snapshot after
// every mutation, starting with the next one.
func (s *Store) Subscribe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) snapshotLocked() []CatchRecord {
	snapshot := make([]CatchRecord, len(s.records))
	copy(snapshot, s.records)
	return snapshot
}

func (s *Store) persistLocked(ctx context.Context) error {
	payload, err := json.Marshal(s.records)
	if err != nil {
		s.logger.Error("catalog serialization failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if err := s.storage.SaveCatalog(ctx, payload); err != nil {
		s.logger.Error("catalog write failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

func (s *Store) readCatalog(ctx context.Context) []CatchRecord {
	payload, err := s.storage.LoadCatalog(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrCatalogMissing) {
			s.logger.Warn("catalog read failed, starting empty", zap.Error(err))
		}
		return []CatchRecord{}
	}

	var records []CatchRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		s.logger.Warn("catalog undecodable, starting empty", zap.Error(err))
		return []CatchRecord{}
	}
	return records
}

func (s *Store) notify(snapshot []CatchRecord) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}
