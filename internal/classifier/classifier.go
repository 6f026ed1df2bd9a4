// Package classifier wraps the pretrained species model and ranks its output
// over the fixed label vocabulary.
package classifier

import (
	"errors"
	"fmt"

	"github.com/example/fishid/internal/preprocess"
)

var (
	// ErrModelUnavailable indicates the model resource could not be located or loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInferenceFailed indicates a runtime failure of the scoring model.
	ErrInferenceFailed = errors.New("inference failed")
	// ErrVocabularyMismatch indicates a score vector whose length does not
	// match the label vocabulary. This is a contract violation, not a
	// recoverable condition.
	ErrVocabularyMismatch = errors.New("vocabulary mismatch")
)

// Model is the opaque scoring function behind the classifier. Implementations
// must be deterministic for a fixed input.
type Model interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// ScoredLabel pairs a vocabulary label with its score for one inference call.
type ScoredLabel struct {
	Label string  `json:"species"`
	Score float64 `json:"score"`
}

// Classifier produces a score vector over Vocabulary for a preprocessed image.
type Classifier struct {
	model  Model
	labels []string
}

// New wraps model with the frozen vocabulary.
func New(model Model) *Classifier {
	return &Classifier{model: model, labels: Vocabulary}
}

// Labels returns the vocabulary the classifier scores against.
func (c *Classifier) Labels() []string {
	return c.labels
}

// Classify runs the model over buf and returns one raw score per vocabulary
// entry, in vocabulary order. An output whose length does not match the
// vocabulary is rejected rather than truncated or padded.
func (c *Classifier) Classify(buf *preprocess.PixelBuffer) ([]float64, error) {
	raw, err := c.model.Run(buf.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}

	if len(raw) != len(c.labels) {
		return nil, fmt.Errorf("%w: model produced %d scores for %d labels", ErrVocabularyMismatch, len(raw), len(c.labels))
	}

	scores := make([]float64, len(raw))
	for i, v := range raw {
		scores[i] = float64(v)
	}
	return scores, nil
}

// Close releases the underlying model resources.
func (c *Classifier) Close() error {
	return c.model.Close()
}
