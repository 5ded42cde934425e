package share

import (
	"time"

	"github.com/abduss/appdrive/internal/node"
	"github.com/google/uuid"
)

// Link is a public, expiring pointer to one file.
type Link struct {
	Token         string    `json:"token"`
	FileID        uuid.UUID `json:"file_id"`
	OwnerID       string    `json:"owner_id"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	IsActive      bool      `json:"is_active"`
	DownloadCount int64     `json:"download_count"`

	// URL is the public address of the link, set when a base URL is configured.
	URL string `json:"url,omitempty"`
}

// Resolvable reports whether the link may be served at now.
func (l Link) Resolvable(now time.Time) bool {
	return l.IsActive && now.Before(l.ExpiresAt)
}

// Resolved pairs a live link with the file it points at.
type Resolved struct {
	Link Link      `json:"link"`
	File node.Node `json:"file"`
}

// Download is a resolved link with a presigned URL for its bytes.
type Download struct {
	Resolved
	URL string `json:"url"`
}
