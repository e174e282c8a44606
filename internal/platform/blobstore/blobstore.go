// Package blobstore stores chat media (images, video, voice notes). Media is
// uploaded before the referencing message is written; the message stores
// the returned URL.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidKind        = errors.New("media kind must be image, video or audio")
	ErrMissingFileName    = errors.New("file name is required")
)

// DefaultMaxSize applies when a store is built with a zero limit.
const DefaultMaxSize = 25 << 20

// Kind is the media category of an upload.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

var allowedContentTypes = map[Kind]map[string]bool{
	KindImage: {"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true, "image/heic": true},
	KindVideo: {"video/mp4": true, "video/quicktime": true, "video/webm": true, "video/3gpp": true},
	KindAudio: {"audio/mpeg": true, "audio/mp4": true, "audio/aac": true, "audio/ogg": true, "audio/wav": true, "audio/webm": true},
}

func (k Kind) Valid() bool {
	_, ok := allowedContentTypes[k]
	return ok
}

// Asset describes a stored media object.
type Asset struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Kind        Kind      `json:"kind"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// UploadRequest carries the metadata for Put.
type UploadRequest struct {
	Kind        Kind
	FileName    string
	ContentType string
	OwnerID     string
	// Scope groups objects under a prefix, usually the chat thread id.
	Scope string
}

// Store is implemented by the in-memory and S3 backends.
type Store interface {
	Put(ctx context.Context, req UploadRequest, body io.Reader) (*Asset, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Asset, error)
	Delete(ctx context.Context, key string) error
}

// Validate checks kind, file name and content type.
func (r UploadRequest) Validate() error {
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if strings.TrimSpace(r.FileName) == "" {
		return ErrMissingFileName
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(r.ContentType, ";", 2)[0]))
	if !allowedContentTypes[r.Kind][ct] {
		return fmt.Errorf("%w: %s for %s", ErrInvalidContentType, r.ContentType, r.Kind)
	}
	return nil
}

// objectKey builds <kind>/<scope>/<uuid>-<base name>.
func objectKey(req UploadRequest) string {
	scope := req.Scope
	if scope == "" {
		scope = "unscoped"
	}
	name := strings.ReplaceAll(path.Base(req.FileName), " ", "_")
	return fmt.Sprintf("%s/%s/%s-%s", req.Kind, scope, uuid.NewString(), name)
}

// readLimited reads body and fails when it exceeds max bytes.
func readLimited(body io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > max {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	asset   Asset
	content []byte
}

// InMemoryStore is a thread-safe Store for tests and single-node development.
// URLs point at baseURL/<key>.
type InMemoryStore struct {
	baseURL string
	maxSize int64

	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryStore(baseURL string, maxSize int64) *InMemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &InMemoryStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		maxSize: maxSize,
		blobs:   make(map[string]*storedBlob),
	}
}

func (s *InMemoryStore) Put(_ context.Context, req UploadRequest, body io.Reader) (*Asset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := readLimited(body, s.maxSize)
	if err != nil {
		return nil, err
	}

	key := objectKey(req)
	asset := Asset{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		Kind:        req.Kind,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        int64(len(data)),
		Hash:        hashOf(data),
		OwnerID:     req.OwnerID,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{asset: asset, content: data}
	s.mu.Unlock()

	out := asset
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Asset, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	asset := b.asset
	return io.NopCloser(bytes.NewReader(b.content)), &asset, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}
