// Package share issues, resolves and revokes public links to single files.
package share

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/logger"
	"github.com/abduss/appdrive/internal/metrics"
	"github.com/abduss/appdrive/internal/node"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tokenAttempts = 3

type linkStore interface {
	Insert(ctx context.Context, l Link) (Link, error)
	Get(ctx context.Context, token string) (Link, error)
	IncrementDownloads(ctx context.Context, token string) (Link, error)
	Deactivate(ctx context.Context, token string) (Link, error)
	ListByFile(ctx context.Context, fileID uuid.UUID) ([]Link, error)
}

type nodeReader interface {
	Get(ctx context.Context, id uuid.UUID) (node.Node, error)
	HasTrashedAncestor(ctx context.Context, n node.Node) (bool, error)
}

type ledger interface {
	Authorize(ctx context.Context, uid string, c account.Capability) error
}

type objectStore interface {
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Options bounds link lifetimes.
type Options struct {
	DefaultTTL  time.Duration
	MaxTTL      time.Duration
	TokenBytes  int
	DownloadTTL time.Duration

	// PublicBaseURL prefixes the public address returned with each link.
	PublicBaseURL string
}

// Service is the share link service.
type Service struct {
	links   linkStore
	nodes   nodeReader
	ledger  ledger
	blobs   objectStore
	opts    Options
	log     *zap.Logger
	nowFunc func() time.Time
}

// NewService constructs a share link service.
func NewService(links linkStore, nodes nodeReader, ledger ledger, blobs objectStore, opts Options, log *zap.Logger) *Service {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 7 * 24 * time.Hour
	}
	if opts.MaxTTL < opts.DefaultTTL {
		opts.MaxTTL = opts.DefaultTTL
	}
	if opts.TokenBytes < 16 {
		opts.TokenBytes = 32
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = 15 * time.Minute
	}
	return &Service{
		links:   links,
		nodes:   nodes,
		ledger:  ledger,
		blobs:   blobs,
		opts:    opts,
		log:     log.Named("share"),
		nowFunc: time.Now,
	}
}

// Create issues a link to one of the owner's files. A non-positive ttl
// selects the default lifetime.
func (s *Service) Create(ctx context.Context, ownerID string, fileID uuid.UUID, ttl time.Duration) (Link, error) {
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}
	if ttl > s.opts.MaxTTL {
		return Link{}, ErrInvalidTTL
	}
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityWrite); err != nil {
		return Link{}, err
	}

	file, err := s.ownedFile(ctx, ownerID, fileID)
	if err != nil {
		return Link{}, err
	}
	if err := s.checkLive(ctx, file); err != nil {
		return Link{}, err
	}

	now := s.nowFunc().UTC()
	for attempt := 1; ; attempt++ {
		token, err := newToken(s.opts.TokenBytes)
		if err != nil {
			return Link{}, err
		}
		link, err := s.links.Insert(ctx, Link{
			Token:     token,
			FileID:    file.ID,
			OwnerID:   ownerID,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			IsActive:  true,
		})
		if errors.Is(err, errTokenTaken) && attempt < tokenAttempts {
			continue
		}
		if err != nil {
			return Link{}, err
		}
		link = s.withURL(link)
		s.log.Info("share link created",
			zap.String("owner_id", ownerID),
			zap.String("node_id", file.ID.String()),
			zap.Time("expires_at", link.ExpiresAt),
		)
		return link, nil
	}
}

// Resolve returns the live link and its file. It performs no ownership
// check.
func (s *Service) Resolve(ctx context.Context, token string) (Resolved, error) {
	resolved, err := s.resolve(ctx, token)
	metrics.ShareResolution(resolutionOutcome(err))
	return resolved, err
}

func (s *Service) resolve(ctx context.Context, token string) (Resolved, error) {
	if token == "" {
		return Resolved{}, ErrShareNotFound
	}
	link, err := s.links.Get(ctx, token)
	if err != nil {
		return Resolved{}, err
	}
	if !link.IsActive {
		return Resolved{}, ErrShareRevoked
	}
	if !link.Resolvable(s.nowFunc()) {
		return Resolved{}, ErrShareExpired
	}

	file, err := s.nodes.Get(ctx, link.FileID)
	if err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			return Resolved{}, ErrFileDeleted
		}
		return Resolved{}, err
	}
	if err := s.checkLive(ctx, file); err != nil {
		return Resolved{}, err
	}
	return Resolved{Link: link, File: file}, nil
}

// RecordDownload counts one download of the link.
func (s *Service) RecordDownload(ctx context.Context, token string) error {
	_, err := s.links.IncrementDownloads(ctx, token)
	return err
}

// Download resolves the link and presigns a download of its file. A failed
// download counter update is logged and does not fail the download.
func (s *Service) Download(ctx context.Context, token string) (Download, error) {
	resolved, err := s.Resolve(ctx, token)
	if err != nil {
		return Download{}, err
	}
	url, err := s.blobs.PresignDownload(ctx, resolved.File.File.BlobKey, s.opts.DownloadTTL)
	if err != nil {
		return Download{}, err
	}

	if err := s.RecordDownload(ctx, token); err != nil {
		metrics.BestEffortFailure("share_download_count")
		logger.FromContext(ctx, s.log).Warn("share download count failed",
			zap.String("node_id", resolved.File.ID.String()),
			zap.Error(err),
		)
	} else {
		resolved.Link.DownloadCount++
	}
	return Download{Resolved: resolved, URL: url}, nil
}

// Revoke deactivates a link. Revoking an already revoked link succeeds.
func (s *Service) Revoke(ctx context.Context, ownerID, token string) (Link, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return Link{}, err
	}
	link, err := s.links.Get(ctx, token)
	if err != nil {
		return Link{}, err
	}
	if link.OwnerID != ownerID {
		return Link{}, ErrNotOwner
	}
	if !link.IsActive {
		return link, nil
	}
	revoked, err := s.links.Deactivate(ctx, token)
	if err != nil {
		return Link{}, err
	}
	s.log.Info("share link revoked", zap.String("owner_id", ownerID), zap.String("node_id", link.FileID.String()))
	return revoked, nil
}

// ListForFile returns the links issued for one of the owner's files.
func (s *Service) ListForFile(ctx context.Context, ownerID string, fileID uuid.UUID) ([]Link, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return nil, err
	}
	if _, err := s.ownedFile(ctx, ownerID, fileID); err != nil {
		return nil, err
	}
	links, err := s.links.ListByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []Link{}
	}
	for i := range links {
		links[i] = s.withURL(links[i])
	}
	return links, nil
}

func (s *Service) withURL(l Link) Link {
	if s.opts.PublicBaseURL != "" {
		l.URL = strings.TrimRight(s.opts.PublicBaseURL, "/") + "/s/" + l.Token
	}
	return l
}

func (s *Service) ownedFile(ctx context.Context, ownerID string, fileID uuid.UUID) (node.Node, error) {
	file, err := s.nodes.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			return node.Node{}, ErrFileNotFound
		}
		return node.Node{}, err
	}
	if file.OwnerID != ownerID {
		return node.Node{}, ErrNotOwner
	}
	if !file.IsFile() {
		return node.Node{}, ErrNotAFile
	}
	return file, nil
}

// checkLive rejects files that are trashed or sit under a trashed folder.
func (s *Service) checkLive(ctx context.Context, file node.Node) error {
	if file.IsDeleted() {
		return ErrFileDeleted
	}
	trashed, err := s.nodes.HasTrashedAncestor(ctx, file)
	if err != nil {
		return err
	}
	if trashed {
		return ErrFileDeleted
	}
	return nil
}

func newToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func resolutionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrShareNotFound):
		return "not_found"
	case errors.Is(err, ErrShareExpired):
		return "expired"
	case errors.Is(err, ErrShareRevoked):
		return "revoked"
	case errors.Is(err, ErrFileDeleted):
		return "file_deleted"
	default:
		return "error"
	}
}
