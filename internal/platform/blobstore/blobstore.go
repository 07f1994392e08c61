// Package blobstore stores uploaded files (prescriptions, reports) in an
// S3-compatible bucket. MinioStore talks to MinIO; MemoryStore backs tests
// and local runs without object storage.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrEmptyFile          = errors.New("file is empty")
	ErrInvalidContentType = errors.New("content type is not allowed")
)

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// MaxFileSize is the largest accepted upload (10 MB).
const MaxFileSize = 10 * 1024 * 1024

// AllowedContentTypes maps accepted MIME types to the extension used in the
// object key.
var AllowedContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
}

// Validate checks the declared content type and size of an upload.
func Validate(contentType string, size int64) error {
	ct := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if _, ok := AllowedContentTypes[strings.ToLower(ct)]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidContentType, contentType)
	}
	if size <= 0 {
		return ErrEmptyFile
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

// ObjectKey builds "<prefix>/<uuid><ext>" for a new object.
func ObjectKey(prefix, contentType string) string {
	ext := AllowedContentTypes[strings.ToLower(contentType)]
	return path.Join(prefix, uuid.NewString()+ext)
}

// ---------------------------------------------------------------------------
// ObjectStore interface
// ---------------------------------------------------------------------------

// Object describes a stored file.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag"`
	StoredAt    time.Time `json:"storedAt"`
}

type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	object  Object
	content []byte
}

// MemoryStore is a thread-safe in-process ObjectStore. Presigned URLs use
// the memory:// scheme and stay valid until the object is deleted.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	if err := Validate(contentType, size); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if n > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	sum := sha256.Sum256(buf.Bytes())
	obj := Object{
		Key:         key,
		ContentType: contentType,
		Size:        n,
		ETag:        hex.EncodeToString(sum[:]),
		StoredAt:    s.now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{object: obj, content: buf.Bytes()}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

func (s *MemoryStore) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}
	q := url.Values{"expires": {s.now().Add(expiry).UTC().Format(time.RFC3339)}}
	return "memory://" + key + "?" + q.Encode(), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

// Content returns a copy of the stored bytes.
func (s *MemoryStore) Content(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), o.content...), true
}
