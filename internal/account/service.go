package account

import (
	"context"
	"errors"

	"github.com/abduss/appdrive/internal/metrics"
	"github.com/abduss/appdrive/internal/plan"
	"go.uber.org/zap"
)

type repository interface {
	Ensure(ctx context.Context, uid, planID string, capBytes int64) (Account, error)
	Get(ctx context.Context, uid string) (Account, error)
	Reserve(ctx context.Context, uid string, bytes int64) (Account, error)
	Commit(ctx context.Context, uid string, bytes int64) (Account, error)
	Release(ctx context.Context, uid string, bytes int64) (Account, error)
	Free(ctx context.Context, uid string, bytes int64) (Account, error)
	ChangePlan(ctx context.Context, uid, planID string, capBytes int64) (Account, error)
	SetStatus(ctx context.Context, uid string, status Status) (Account, error)
}

type planCatalog interface {
	Lookup(id string) (plan.Plan, error)
	Default() plan.Plan
}

// Service is the account ledger: it owns quota counters and account status.
type Service struct {
	repo  repository
	plans planCatalog
	log   *zap.Logger
}

// NewService constructs the account ledger.
func NewService(repo repository, plans planCatalog, log *zap.Logger) *Service {
	return &Service{repo: repo, plans: plans, log: log.Named("account")}
}

// EnsureAccount returns the account, creating it on the default plan on first access.
func (s *Service) EnsureAccount(ctx context.Context, uid string) (Account, error) {
	def := s.plans.Default()
	return s.repo.Ensure(ctx, uid, def.ID, def.StorageCapBytes)
}

// RequireActive fails with ErrAccountNotActive unless the account status permits c.
func (s *Service) RequireActive(acct Account, c Capability) error {
	if !acct.Status.Allows(c) {
		return ErrAccountNotActive
	}
	return nil
}

// Authorize loads the account and checks it may exercise c.
func (s *Service) Authorize(ctx context.Context, uid string, c Capability) error {
	acct, err := s.EnsureAccount(ctx, uid)
	if err != nil {
		return err
	}
	return s.RequireActive(acct, c)
}

// Reserve adds bytes to the account's pending reservations. It fails with
// ErrQuotaExceeded when used + pending + bytes would exceed the cap.
func (s *Service) Reserve(ctx context.Context, uid string, bytes int64) error {
	if bytes <= 0 {
		return ErrInvalidAmount
	}
	acct, err := s.EnsureAccount(ctx, uid)
	if err != nil {
		metrics.QuotaReservation("error")
		return err
	}
	if err := s.RequireActive(acct, CapabilityWrite); err != nil {
		metrics.QuotaReservation("rejected")
		return err
	}
	if _, err := s.repo.Reserve(ctx, uid, bytes); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			metrics.QuotaReservation("exceeded")
		} else {
			metrics.QuotaReservation("error")
		}
		return err
	}
	metrics.QuotaReservation("ok")
	return nil
}

// Commit settles a reservation into used bytes. A vanished account is logged
// and reported as ErrAccountNotFound; callers treat the reservation as released.
func (s *Service) Commit(ctx context.Context, uid string, bytes int64) error {
	if bytes < 0 {
		return ErrInvalidAmount
	}
	if bytes == 0 {
		return nil
	}
	if _, err := s.repo.Commit(ctx, uid, bytes); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.log.Warn("commit against missing account", zap.String("owner_id", uid), zap.Int64("bytes", bytes))
		}
		return err
	}
	return nil
}

// Release drops bytes from pending reservations (rollback path).
func (s *Service) Release(ctx context.Context, uid string, bytes int64) error {
	if bytes < 0 {
		return ErrInvalidAmount
	}
	if bytes == 0 {
		return nil
	}
	if _, err := s.repo.Release(ctx, uid, bytes); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.log.Warn("release against missing account", zap.String("owner_id", uid), zap.Int64("bytes", bytes))
		}
		return err
	}
	return nil
}

// Free returns bytes of permanently deleted files to the account.
func (s *Service) Free(ctx context.Context, uid string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if _, err := s.repo.Free(ctx, uid, bytes); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.log.Warn("free against missing account", zap.String("owner_id", uid), zap.Int64("bytes", bytes))
			return nil
		}
		return err
	}
	return nil
}

// Snapshot returns the quota view of the account.
func (s *Service) Snapshot(ctx context.Context, uid string) (Quota, error) {
	acct, err := s.EnsureAccount(ctx, uid)
	if err != nil {
		return Quota{}, err
	}
	return acct.Snapshot(), nil
}

// ChangePlan moves the account to planID, refusing caps below current usage.
func (s *Service) ChangePlan(ctx context.Context, uid, planID string) (Account, error) {
	p, err := s.plans.Lookup(planID)
	if err != nil {
		return Account{}, err
	}
	if _, err := s.EnsureAccount(ctx, uid); err != nil {
		return Account{}, err
	}
	acct, err := s.repo.ChangePlan(ctx, uid, p.ID, p.StorageCapBytes)
	if err != nil {
		return Account{}, err
	}
	s.log.Info("plan changed", zap.String("owner_id", uid), zap.String("plan_id", p.ID))
	return acct, nil
}

// SetStatus changes the account status.
func (s *Service) SetStatus(ctx context.Context, uid string, status Status) (Account, error) {
	if !status.Valid() {
		return Account{}, ErrInvalidStatus
	}
	if _, err := s.EnsureAccount(ctx, uid); err != nil {
		return Account{}, err
	}
	return s.repo.SetStatus(ctx, uid, status)
}
