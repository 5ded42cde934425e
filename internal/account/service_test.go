package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abduss/appdrive/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, capBytes int64) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	catalog := plan.Defaults("free", capBytes)
	return NewService(repo, catalog, zap.NewNop()), repo
}

func TestEnsureAccountIsIdempotentUnderConcurrency(t *testing.T) {
	service, repo := newTestService(t, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.EnsureAccount(context.Background(), "user-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, repo.inserts)
	acct, err := repo.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, acct.Status)
	assert.Equal(t, int64(1000), acct.StorageCapBytes)
}

func TestReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService(t, 1000)

	err := service.Reserve(ctx, "user-1", 1200)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, service.Reserve(ctx, "user-1", 600))
	acct, _ := repo.Get(ctx, "user-1")
	assert.Equal(t, int64(600), acct.PendingBytes)

	require.NoError(t, service.Commit(ctx, "user-1", 600))
	acct, _ = repo.Get(ctx, "user-1")
	assert.Equal(t, int64(600), acct.UsedBytes)
	assert.Equal(t, int64(0), acct.PendingBytes)

	// exactly at the cap is allowed
	require.NoError(t, service.Reserve(ctx, "user-1", 400))
	require.ErrorIs(t, service.Reserve(ctx, "user-1", 1), ErrQuotaExceeded)

	require.NoError(t, service.Release(ctx, "user-1", 400))
	acct, _ = repo.Get(ctx, "user-1")
	assert.Equal(t, int64(0), acct.PendingBytes)

	// release clamps at zero
	require.NoError(t, service.Release(ctx, "user-1", 50))
	acct, _ = repo.Get(ctx, "user-1")
	assert.Equal(t, int64(0), acct.PendingBytes)
}

func TestReserveRejectsInvalidAmounts(t *testing.T) {
	service, _ := newTestService(t, 1000)

	assert.ErrorIs(t, service.Reserve(context.Background(), "user-1", 0), ErrInvalidAmount)
	assert.ErrorIs(t, service.Reserve(context.Background(), "user-1", -5), ErrInvalidAmount)
}

func TestConcurrentReservationsNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService(t, 1000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := service.Reserve(ctx, "user-1", 70)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrQuotaExceeded)
		}()
	}
	wg.Wait()

	acct, _ := repo.Get(ctx, "user-1")
	assert.Equal(t, 14, accepted)
	assert.Equal(t, int64(980), acct.PendingBytes)
	assert.LessOrEqual(t, acct.UsedBytes+acct.PendingBytes, acct.StorageCapBytes)
}

func TestCommitAgainstMissingAccount(t *testing.T) {
	service, _ := newTestService(t, 1000)

	err := service.Commit(context.Background(), "ghost", 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCommitWithoutReservationFails(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 1000)
	_, err := service.EnsureAccount(ctx, "user-1")
	require.NoError(t, err)

	assert.ErrorIs(t, service.Commit(ctx, "user-1", 10), ErrReservationMissing)
}

func TestRequireActive(t *testing.T) {
	service, _ := newTestService(t, 1000)

	tests := []struct {
		status Status
		read   bool
		write  bool
	}{
		{StatusActive, true, true},
		{StatusTrial, true, true},
		{StatusWarning, true, true},
		{StatusExpired, true, false},
		{StatusSuspended, false, false},
	}
	for _, tc := range tests {
		acct := Account{Status: tc.status}
		assert.Equal(t, tc.read, service.RequireActive(acct, CapabilityRead) == nil, "read %s", tc.status)
		assert.Equal(t, tc.write, service.RequireActive(acct, CapabilityWrite) == nil, "write %s", tc.status)
	}
}

func TestReserveRequiresWritableAccount(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 1000)

	_, err := service.SetStatus(ctx, "user-1", StatusExpired)
	require.NoError(t, err)

	assert.ErrorIs(t, service.Reserve(ctx, "user-1", 10), ErrAccountNotActive)
	assert.NoError(t, service.Authorize(ctx, "user-1", CapabilityRead))
}

func TestChangePlanRefusesCapBelowUsage(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	catalog, err := plan.NewCatalog("free",
		plan.Plan{ID: "free", StorageCapBytes: 1000},
		plan.Plan{ID: "tiny", StorageCapBytes: 100},
		plan.Plan{ID: "pro", StorageCapBytes: 10_000},
	)
	require.NoError(t, err)
	service := NewService(repo, catalog, zap.NewNop())

	require.NoError(t, service.Reserve(ctx, "user-1", 500))
	require.NoError(t, service.Commit(ctx, "user-1", 500))

	_, err = service.ChangePlan(ctx, "user-1", "tiny")
	assert.ErrorIs(t, err, ErrPlanTooSmall)

	acct, err := service.ChangePlan(ctx, "user-1", "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), acct.StorageCapBytes)

	_, err = service.ChangePlan(ctx, "user-1", "unknown")
	assert.True(t, errors.Is(err, plan.ErrPlanNotFound))
}

func TestSnapshotReportsAvailableSpace(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, 1000)

	require.NoError(t, service.Reserve(ctx, "user-1", 250))
	require.NoError(t, service.Commit(ctx, "user-1", 250))
	require.NoError(t, service.Reserve(ctx, "user-1", 250))

	quota, err := service.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), quota.AvailableBytes)
	assert.InDelta(t, 50.0, quota.UsagePercent, 0.001)
}

func TestFreeClampsAtZero(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService(t, 1000)

	require.NoError(t, service.Reserve(ctx, "user-1", 100))
	require.NoError(t, service.Commit(ctx, "user-1", 100))
	require.NoError(t, service.Free(ctx, "user-1", 300))

	acct, _ := repo.Get(ctx, "user-1")
	assert.Equal(t, int64(0), acct.UsedBytes)
	assert.NoError(t, service.Free(ctx, "ghost", 10))
}

// --- fakes ---

type memoryRepo struct {
	mu       sync.Mutex
	accounts map[string]Account
	inserts  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: make(map[string]Account)}
}

func (m *memoryRepo) Ensure(ctx context.Context, uid, planID string, capBytes int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[uid]; ok {
		return acct, nil
	}
	now := time.Now()
	acct := Account{UID: uid, Status: StatusActive, PlanID: planID, StorageCapBytes: capBytes, CreatedAt: now, UpdatedAt: now}
	m.accounts[uid] = acct
	m.inserts++
	return acct, nil
}

func (m *memoryRepo) Get(ctx context.Context, uid string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[uid]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (m *memoryRepo) mutate(uid string, fn func(*Account) error) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[uid]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if err := fn(&acct); err != nil {
		return Account{}, err
	}
	m.accounts[uid] = acct
	return acct, nil
}

func (m *memoryRepo) Reserve(ctx context.Context, uid string, bytes int64) (Account, error) {
	return m.mutate(uid, func(a *Account) error {
		if a.UsedBytes+a.PendingBytes+bytes > a.StorageCapBytes {
			return ErrQuotaExceeded
		}
		a.PendingBytes += bytes
		return nil
	})
}

func (m *memoryRepo) Commit(ctx context.Context, uid string, bytes int64) (Account, error) {
	return m.mutate(uid, func(a *Account) error {
		if a.PendingBytes < bytes {
			return ErrReservationMissing
		}
		a.PendingBytes -= bytes
		a.UsedBytes += bytes
		return nil
	})
}

func (m *memoryRepo) Release(ctx context.Context, uid string, bytes int64) (Account, error) {
	return m.mutate(uid, func(a *Account) error {
		a.PendingBytes = max(a.PendingBytes-bytes, 0)
		return nil
	})
}

func (m *memoryRepo) Free(ctx context.Context, uid string, bytes int64) (Account, error) {
	return m.mutate(uid, func(a *Account) error {
		a.UsedBytes = max(a.UsedBytes-bytes, 0)
		return nil
	})
}

func (m *memoryRepo) ChangePlan(ctx context.Context, uid, planID string, capBytes int64) (Account, error) {
	return m.mutate(uid, func(a *Account) error {
		if a.UsedBytes+a.PendingBytes > capBytes {
			return ErrPlanTooSmall
		}
		a.PlanID = planID
		a.StorageCapBytes = capBytes
		return nil
	})
}

func (m *memoryRepo) SetStatus(ctx context.Context, uid string, status Status) (Account, error) {
	return m.mutate(uid, func(a *Account) error {
		a.Status = status
		return nil
	})
}
