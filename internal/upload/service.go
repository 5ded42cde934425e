// Package upload drives the presign, upload and confirm flow. A session
// reserves quota when it is created and settles that reservation exactly
// once, by confirm, fail or the expiry sweep.
package upload

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/blob"
	"github.com/abduss/appdrive/internal/logger"
	"github.com/abduss/appdrive/internal/metrics"
	"github.com/abduss/appdrive/internal/node"
	"github.com/abduss/appdrive/internal/tree"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMimeType = "application/octet-stream"

type sessionStore interface {
	Insert(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Session, error)
	MarkConfirmed(ctx context.Context, id, fileID uuid.UUID, sizeBytes int64, at time.Time) (Session, error)
	MarkTerminal(ctx context.Context, id uuid.UUID, status Status, reason string, at time.Time) (Session, error)
	ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]Session, error)
}

type ledger interface {
	Authorize(ctx context.Context, uid string, c account.Capability) error
	Reserve(ctx context.Context, uid string, bytes int64) error
	Commit(ctx context.Context, uid string, bytes int64) error
	Release(ctx context.Context, uid string, bytes int64) error
}

type parentResolver interface {
	ResolveParent(ctx context.Context, ownerID, appID string, parentID *uuid.UUID) (node.Node, error)
}

type fileCreator interface {
	CreateFileNode(ctx context.Context, ownerID, appID string, parentID uuid.UUID, name string, info node.FileInfo) (node.Node, error)
}

type objectStore interface {
	PresignUpload(ctx context.Context, key, mimeType string) (blob.UploadTarget, error)
	Stat(ctx context.Context, key string) (blob.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options bounds sessions and file sizes.
type Options struct {
	SessionTTL  time.Duration
	MaxFileSize int64
}

// Service is the upload session manager.
type Service struct {
	sessions sessionStore
	ledger   ledger
	resolver parentResolver
	files    fileCreator
	blobs    objectStore
	tx       txRunner
	opts     Options
	log      *zap.Logger
	nowFunc  func() time.Time
}

// NewService constructs an upload session manager.
func NewService(sessions sessionStore, ledger ledger, resolver parentResolver, files fileCreator, blobs objectStore, tx txRunner, opts Options, log *zap.Logger) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &Service{
		sessions: sessions,
		ledger:   ledger,
		resolver: resolver,
		files:    files,
		blobs:    blobs,
		tx:       tx,
		opts:     opts,
		log:      log.Named("upload"),
		nowFunc:  time.Now,
	}
}

// Presign validates the target folder, reserves quota and opens a pending
// session with a presigned upload target. The reservation and the session
// are written in one transaction, so a failure leaves neither behind.
func (s *Service) Presign(ctx context.Context, ownerID string, req PresignRequest) (PresignResult, error) {
	if err := tree.ValidateName(req.FileName); err != nil {
		return PresignResult{}, err
	}
	if req.SizeBytes <= 0 {
		return PresignResult{}, ErrInvalidSize
	}
	if s.opts.MaxFileSize > 0 && req.SizeBytes > s.opts.MaxFileSize {
		return PresignResult{}, ErrFileTooLarge
	}
	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityWrite); err != nil {
		return PresignResult{}, err
	}
	parent, err := s.resolver.ResolveParent(ctx, ownerID, req.AppID, req.ParentID)
	if err != nil {
		return PresignResult{}, err
	}
	appID, _ := parent.Namespace.AppID()

	now := s.nowFunc().UTC()
	session := Session{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		AppID:     appID,
		ParentID:  parent.ID,
		FileName:  req.FileName,
		SizeBytes: req.SizeBytes,
		MimeType:  mimeType,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	session.BlobKey = blob.ObjectKey(ownerID, session.ID, now)

	target, err := s.blobs.PresignUpload(ctx, session.BlobKey, mimeType)
	if err != nil {
		return PresignResult{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ledger.Reserve(ctx, ownerID, session.SizeBytes); err != nil {
			return err
		}
		stored, err := s.sessions.Insert(ctx, session)
		if err != nil {
			return err
		}
		session = stored
		return nil
	})
	if err != nil {
		return PresignResult{}, err
	}

	metrics.UploadSession(string(StatusPending))
	s.log.Debug("upload session opened",
		zap.String("owner_id", ownerID),
		zap.String("session_id", session.ID.String()),
		zap.Int64("size_bytes", session.SizeBytes),
	)
	return PresignResult{Session: session, Upload: target}, nil
}

// Get returns one of the owner's sessions.
func (s *Service) Get(ctx context.Context, ownerID string, sessionID uuid.UUID) (Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if session.OwnerID != ownerID {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

var errExpiredWhilePending = errors.New("session expired while pending")

// Confirm verifies the uploaded object, creates the file node, settles the
// reservation and marks the session confirmed, all in one transaction. The
// object's stored size is authoritative; actualSize, when given, must agree
// with it. A confirm that fails before the transaction commits leaves the
// session pending.
func (s *Service) Confirm(ctx context.Context, ownerID string, sessionID uuid.UUID, actualSize *int64) (node.Node, error) {
	session, err := s.Get(ctx, ownerID, sessionID)
	if err != nil {
		return node.Node{}, err
	}
	if session.Status != StatusPending {
		return node.Node{}, ErrSessionNotPending
	}
	if !s.nowFunc().UTC().Before(session.ExpiresAt) {
		return node.Node{}, s.expireLate(ctx, sessionID)
	}

	info, err := s.blobs.Stat(ctx, session.BlobKey)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return node.Node{}, ErrUploadMissing
		}
		return node.Node{}, err
	}
	finalSize := info.SizeBytes
	switch {
	case finalSize <= 0:
		return node.Node{}, ErrUploadMissing
	case actualSize != nil && *actualSize != finalSize:
		return node.Node{}, ErrSizeMismatch
	case s.opts.MaxFileSize > 0 && finalSize > s.opts.MaxFileSize:
		return node.Node{}, ErrFileTooLarge
	}

	var file node.Node
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.sessions.GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if locked.Status != StatusPending {
			return ErrSessionNotPending
		}
		now := s.nowFunc().UTC()
		if !now.Before(locked.ExpiresAt) {
			return errExpiredWhilePending
		}

		if err := s.adjustReservation(ctx, locked, finalSize); err != nil {
			return err
		}
		created, err := s.files.CreateFileNode(ctx, locked.OwnerID, locked.AppID, locked.ParentID, locked.FileName, node.FileInfo{
			SizeBytes: finalSize,
			MimeType:  locked.MimeType,
			BlobKey:   locked.BlobKey,
		})
		if err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, locked.OwnerID, finalSize); err != nil {
			if !errors.Is(err, account.ErrAccountNotFound) {
				return err
			}
			logger.FromContext(ctx, s.log).Warn("commit skipped for missing account",
				zap.String("owner_id", locked.OwnerID),
				zap.String("session_id", locked.ID.String()),
			)
		}
		if _, err := s.sessions.MarkConfirmed(ctx, locked.ID, created.ID, finalSize, now); err != nil {
			return err
		}
		file = created
		return nil
	})
	if errors.Is(err, errExpiredWhilePending) {
		return node.Node{}, s.expireLate(ctx, sessionID)
	}
	if err != nil {
		return node.Node{}, err
	}

	metrics.UploadSession(string(StatusConfirmed))
	s.log.Info("upload confirmed",
		zap.String("owner_id", ownerID),
		zap.String("session_id", sessionID.String()),
		zap.String("node_id", file.ID.String()),
		zap.Int64("size_bytes", finalSize),
	)
	return file, nil
}

// expireLate settles a session confirmed after its deadline and reports
// ErrSessionExpired.
func (s *Service) expireLate(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.Expire(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotPending) {
		s.log.Warn("expire session on late confirm failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	return ErrSessionExpired
}

// adjustReservation aligns the pending reservation with the stored size.
func (s *Service) adjustReservation(ctx context.Context, session Session, finalSize int64) error {
	switch delta := finalSize - session.SizeBytes; {
	case delta > 0:
		return s.ledger.Reserve(ctx, session.OwnerID, delta)
	case delta < 0:
		return s.ledger.Release(ctx, session.OwnerID, -delta)
	}
	return nil
}

// Fail abandons a pending session, releasing its reservation.
func (s *Service) Fail(ctx context.Context, ownerID string, sessionID uuid.UUID, reason string) (Session, error) {
	if ownerID == "" {
		return Session{}, ErrSessionNotFound
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	return s.terminate(ctx, ownerID, sessionID, StatusFailed, reason)
}

// Expire moves a pending session past its deadline to expired.
func (s *Service) Expire(ctx context.Context, sessionID uuid.UUID) (Session, error) {
	return s.terminate(ctx, "", sessionID, StatusExpired, "expired")
}

// terminate releases the reservation and finalizes the session under the
// session row lock. An empty ownerID skips the ownership check.
func (s *Service) terminate(ctx context.Context, ownerID string, sessionID uuid.UUID, status Status, reason string) (Session, error) {
	var session Session
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.sessions.GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if ownerID != "" && locked.OwnerID != ownerID {
			return ErrSessionNotFound
		}
		if locked.Status != StatusPending {
			return ErrSessionNotPending
		}
		if err := s.ledger.Release(ctx, locked.OwnerID, locked.SizeBytes); err != nil && !errors.Is(err, account.ErrAccountNotFound) {
			return err
		}
		updated, err := s.sessions.MarkTerminal(ctx, sessionID, status, reason, s.nowFunc().UTC())
		if err != nil {
			return err
		}
		session = updated
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	metrics.UploadSession(string(status))
	s.removeOrphan(ctx, session)
	return session, nil
}

// removeOrphan deletes whatever the client may have uploaded for a session
// that will never be confirmed.
func (s *Service) removeOrphan(ctx context.Context, session Session) {
	if err := s.blobs.Delete(ctx, session.BlobKey); err != nil {
		metrics.BestEffortFailure("orphan_blob_delete")
		logger.FromContext(ctx, s.log).Warn("orphan blob delete failed",
			zap.String("owner_id", session.OwnerID),
			zap.String("session_id", session.ID.String()),
			zap.Error(err),
		)
	}
}

// SweepExpired expires up to batch pending sessions past their deadline and
// returns how many it expired. Sessions confirmed or failed concurrently are
// skipped.
func (s *Service) SweepExpired(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	expired, err := s.sessions.ListExpiredPending(ctx, s.nowFunc().UTC(), batch)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, session := range expired {
		if _, err := s.Expire(ctx, session.ID); err != nil {
			if errors.Is(err, ErrSessionNotPending) {
				continue
			}
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			s.log.Warn("expire upload session failed", zap.String("session_id", session.ID.String()), zap.Error(err))
			continue
		}
		count++
	}
	if count > 0 {
		s.log.Info("expired upload sessions", zap.Int("count", count))
	}
	return count, nil
}
