// Package blobstore provides file-backed storage for catch images, one file
// per image under a dedicated directory. Presence of a file is sufficient to
// serve a load; there is no index.
package blobstore

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotFound indicates the key has no backing file. Callers treat this as
// "no image available", not a hard failure.
var ErrNotFound = errors.New("blob not found")

// jpegQuality matches the lossy compression applied when images are stored.
const jpegQuality = 70

// Store persists image blobs as individual files named by generated key.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created lazily on the
// first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes data under a freshly generated key and returns the key.
// Decodable payloads are re-encoded as JPEG; payloads that do not decode are
// stored verbatim so a caller never loses bytes to a format it cannot parse.
func (s *Store) Save(data []byte) (string, error) {
	key := uuid.NewString() + ".jpg"
	if err := s.SaveAs(key, data); err != nil {
		return "", err
	}
	return key, nil
}

// SaveAs writes data under key, creating the backing directory if absent.
// Calling it again with the same key overwrites the previous blob.
func (s *Store) SaveAs(key string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	payload := data
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err == nil {
			payload = buf.Bytes()
		}
	}

	if err := os.WriteFile(s.path(key), payload, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return nil
}

// Load returns the raw bytes stored under key, or ErrNotFound when no backing
// file exists.
func (s *Store) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the file backing key. Deleting an absent key returns
// ErrNotFound; it is never a fatal condition and the operation is idempotent.
func (s *Store) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	// Base strips any path separators so a key can never escape the blob dir.
	return filepath.Join(s.dir, filepath.Base(key))
}
