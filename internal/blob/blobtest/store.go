// Package blobtest provides an in-memory blob store for tests.
package blobtest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/abduss/appdrive/internal/blob"
)

// Store records presigned keys and simulates uploaded objects.
type Store struct {
	mu      sync.Mutex
	objects map[string]blob.ObjectInfo
	deleted []string

	PresignErr error
	StatErr    error
	DeleteErr  error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{objects: make(map[string]blob.ObjectInfo)}
}

// PutObject simulates a client uploading size bytes to key.
func (s *Store) PutObject(key string, size int64, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = blob.ObjectInfo{Key: key, SizeBytes: size, ContentType: contentType}
}

// Has reports whether an object exists under key.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// Deleted returns the keys passed to Delete, in call order.
func (s *Store) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Store) PresignUpload(_ context.Context, key, mimeType string) (blob.UploadTarget, error) {
	if s.PresignErr != nil {
		return blob.UploadTarget{}, s.PresignErr
	}
	return blob.UploadTarget{
		URL:       "https://blob.test/upload/" + key,
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": mimeType},
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func (s *Store) PresignDownload(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.PresignErr != nil {
		return "", s.PresignErr
	}
	return "https://blob.test/download/" + key + "?ttl=" + ttl.String(), nil
}

func (s *Store) Stat(_ context.Context, key string) (blob.ObjectInfo, error) {
	if s.StatErr != nil {
		return blob.ObjectInfo{}, s.StatErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.objects[key]
	if !ok {
		return blob.ObjectInfo{}, blob.ErrObjectNotFound
	}
	return info, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
