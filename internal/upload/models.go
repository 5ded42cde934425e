package upload

import (
	"time"

	"github.com/abduss/appdrive/internal/blob"
	"github.com/google/uuid"
)

// Status is the state of an upload session. Every state but pending is final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// Session bridges a presigned upload and the file node created on confirm.
// A pending session holds a reservation of SizeBytes on the owner's quota.
type Session struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       string     `json:"owner_id"`
	AppID         string     `json:"app_id"`
	ParentID      uuid.UUID  `json:"parent_id"`
	FileName      string     `json:"file_name"`
	SizeBytes     int64      `json:"size_bytes"`
	MimeType      string     `json:"mime_type"`
	BlobKey       string     `json:"-"`
	Status        Status     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	FileID        *uuid.UUID `json:"file_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// PresignRequest describes the file a client intends to upload. A nil
// ParentID places the file in the application root.
type PresignRequest struct {
	AppID     string
	ParentID  *uuid.UUID
	FileName  string
	SizeBytes int64
	MimeType  string
}

// PresignResult is a fresh session with its upload target.
type PresignResult struct {
	Session Session           `json:"session"`
	Upload  blob.UploadTarget `json:"upload"`
}
