package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/fishid/internal/catchstore"
	"github.com/example/fishid/internal/classifier"
	"github.com/example/fishid/internal/preprocess"
	"github.com/example/fishid/internal/repository"
)

type stubClassifier struct {
	scores []float64
	err    error
	calls  int
}

func (s *stubClassifier) Classify(buf *preprocess.PixelBuffer) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func (s *stubClassifier) Labels() []string {
	return classifier.Vocabulary
}

type stubCache struct {
	values map[string]string
	setErr error
	getErr error
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string]string{}}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = fmt.Sprint(value)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

type memoryStorage struct {
	payload []byte
}

func (m *memoryStorage) SaveCatalog(ctx context.Context, payload []byte) error {
	m.payload = append([]byte(nil), payload...)
	return nil
}

func (m *memoryStorage) LoadCatalog(ctx context.Context) ([]byte, error) {
	if m.payload == nil {
		return nil, repository.ErrCatalogMissing
	}
	return m.payload, nil
}

type memoryImages struct {
	saved map[string][]byte
	next  int
}

func (m *memoryImages) Save(data []byte) (string, error) {
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	m.next++
	key := fmt.Sprintf("img-%d.jpg", m.next)
	m.saved[key] = data
	return key, nil
}

func (m *memoryImages) Load(key string) ([]byte, error) {
	data, ok := m.saved[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *memoryImages) Delete(key string) error {
	delete(m.saved, key)
	return nil
}

func testScores(peak int) []float64 {
	scores := make([]float64, len(classifier.Vocabulary))
	for i := range scores {
		scores[i] = 0.01 * float64(i)
	}
	scores[peak] = 0.9
	return scores
}

func encodeTestPNG(t *testing.T, seed uint8) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * 10), B: uint8(y * 10), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestUseCase(model *stubClassifier, cache Cache) *IdentifyUseCase {
	catches := catchstore.NewStore(&memoryStorage{}, &memoryImages{}, zap.NewNop())
	uc := NewIdentifyUseCase(model, catches, cache, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func TestIdentifyReturnsRankedTopThree(t *testing.T) {
	model := &stubClassifier{scores: testScores(13)}
	uc := newTestUseCase(model, newStubCache())

	requestID, predictions, err := uc.Identify(context.Background(), encodeTestPNG(t, 1))
	if err != nil {
		t.Fatalf("Identify error: %v", err)
	}
	if requestID == "" {
		t.Fatal("expected request id")
	}
	if len(predictions) != classifier.DefaultTopK {
		t.Fatalf("expected %d predictions, got %d", classifier.DefaultTopK, len(predictions))
	}
	if predictions[0].Label != "Muskie" || predictions[0].Score != 0.9 {
		t.Fatalf("unexpected top prediction: %+v", predictions[0])
	}
	if predictions[0].Score < predictions[1].Score || predictions[1].Score < predictions[2].Score {
		t.Fatalf("predictions not sorted descending: %+v", predictions)
	}
}

func TestIdentifyServesRepeatImageFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	model := &stubClassifier{scores: testScores(0)}
	uc := newTestUseCase(model, NewRedisCache(client))

	payload := encodeTestPNG(t, 2)
	_, first, err := uc.Identify(context.Background(), payload)
	if err != nil {
		t.Fatalf("Identify #1 error: %v", err)
	}
	_, second, err := uc.Identify(context.Background(), payload)
	if err != nil {
		t.Fatalf("Identify #2 error: %v", err)
	}

	if model.calls != 1 {
		t.Fatalf("expected 1 inference call, got %d", model.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached prediction %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestIdentifyDistinctImagesBypassCache(t *testing.T) {
	model := &stubClassifier{scores: testScores(0)}
	uc := newTestUseCase(model, newStubCache())

	if _, _, err := uc.Identify(context.Background(), encodeTestPNG(t, 3)); err != nil {
		t.Fatalf("Identify #1 error: %v", err)
	}
	if _, _, err := uc.Identify(context.Background(), encodeTestPNG(t, 4)); err != nil {
		t.Fatalf("Identify #2 error: %v", err)
	}

	if model.calls != 2 {
		t.Fatalf("expected 2 inference calls, got %d", model.calls)
	}
}

func TestIdentifySurfacesInvalidImage(t *testing.T) {
	uc := newTestUseCase(&stubClassifier{scores: testScores(0)}, newStubCache())

	_, _, err := uc.Identify(context.Background(), []byte("not an image"))
	if !errors.Is(err, preprocess.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if len(uc.ListCatches()) != 0 {
		t.Fatal("pipeline failure must not leave records in the catalog")
	}
}

func TestIdentifySurfacesInferenceFailure(t *testing.T) {
	model := &stubClassifier{err: fmt.Errorf("%w: kaboom", classifier.ErrInferenceFailed)}
	uc := newTestUseCase(model, newStubCache())

	_, _, err := uc.Identify(context.Background(), encodeTestPNG(t, 5))
	if !errors.Is(err, classifier.ErrInferenceFailed) {
		t.Fatalf("expected ErrInferenceFailed, got %v", err)
	}
}

func TestIdentifyToleratesCacheFailures(t *testing.T) {
	cache := newStubCache()
	cache.setErr = errors.New("redis down")
	cache.getErr = errors.New("redis down")
	uc := newTestUseCase(&stubClassifier{scores: testScores(6)}, cache)

	_, predictions, err := uc.Identify(context.Background(), encodeTestPNG(t, 6))
	if err != nil {
		t.Fatalf("expected cache failure to be downgraded, got %v", err)
	}
	if len(predictions) != classifier.DefaultTopK {
		t.Fatalf("expected predictions despite cache failure, got %d", len(predictions))
	}
}

func TestCommitAndRemoveCatch(t *testing.T) {
	uc := newTestUseCase(&stubClassifier{scores: testScores(0)}, newStubCache())
	ctx := context.Background()

	record, err := uc.CommitCatch(ctx, "Brook Trout", 0.87, []byte("image"))
	if err != nil {
		t.Fatalf("CommitCatch error: %v", err)
	}
	if record.Species != "Brook Trout" {
		t.Fatalf("unexpected record: %+v", record)
	}

	data, err := uc.CatchImage(record.ImageRef)
	if err != nil {
		t.Fatalf("CatchImage error: %v", err)
	}
	if string(data) != "image" {
		t.Fatalf("unexpected image bytes: %q", data)
	}

	if err := uc.RemoveCatches(ctx, []int{0}); err != nil {
		t.Fatalf("RemoveCatches error: %v", err)
	}
	if len(uc.ListCatches()) != 0 {
		t.Fatal("expected empty catalog")
	}
}

func TestMetricsSummary(t *testing.T) {
	uc := newTestUseCase(&stubClassifier{scores: testScores(0)}, newStubCache())
	ctx := context.Background()

	if _, err := uc.CommitCatch(ctx, "Muskie", 0.9, []byte("image")); err != nil {
		t.Fatalf("CommitCatch error: %v", err)
	}
	if _, err := uc.CommitCatch(ctx, "Muskie", 0.7, nil); err != nil {
		t.Fatalf("CommitCatch error: %v", err)
	}
	if _, err := uc.CommitCatch(ctx, "Bluegill", 0.8, nil); err != nil {
		t.Fatalf("CommitCatch error: %v", err)
	}

	summary := uc.GetMetricsSummary()
	if summary.TotalCatches != 3 {
		t.Fatalf("expected 3 catches, got %d", summary.TotalCatches)
	}
	if summary.DistinctSpecies != 2 {
		t.Fatalf("expected 2 species, got %d", summary.DistinctSpecies)
	}
	if summary.CatchesWithImage != 1 {
		t.Fatalf("expected 1 catch with image, got %d", summary.CatchesWithImage)
	}
	if diff := summary.AverageConfidence - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected average confidence 0.8, got %f", summary.AverageConfidence)
	}
	if summary.LatestCatchAt == nil {
		t.Fatal("expected latest catch timestamp")
	}
}

func TestMetricsSummaryEmptyCatalog(t *testing.T) {
	uc := newTestUseCase(&stubClassifier{scores: testScores(0)}, newStubCache())

	summary := uc.GetMetricsSummary()
	if summary.TotalCatches != 0 || summary.LatestCatchAt != nil {
		t.Fatalf("unexpected summary for empty catalog: %+v", summary)
	}
}
