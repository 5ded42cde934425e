// Package blob presigns transfers against the external object store and
// inspects or removes stored objects. Bytes never pass through the service.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Stat when no object exists under the key.
var ErrObjectNotFound = apperr.New(apperr.KindNotFound, "object_not_found", "object not found")

// UploadTarget tells a client where and how to send the bytes of an upload.
type UploadTarget struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	SizeBytes   int64
	ContentType string
}

// Store is the capability set of an object store driver.
type Store interface {
	PresignUpload(ctx context.Context, key, mimeType string) (UploadTarget, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// ObjectKey returns a fresh object key for a file of ownerID, laid out by day.
func ObjectKey(ownerID string, id uuid.UUID, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("owners/%s/%04d/%02d/%02d/%s", url.PathEscape(ownerID), now.Year(), now.Month(), now.Day(), id)
}

// classify marks timeouts and network failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(err)
	}
	return err
}
