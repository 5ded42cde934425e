package upload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/blob/blobtest"
	"github.com/abduss/appdrive/internal/node"
	"github.com/abduss/appdrive/internal/node/nodetest"
	"github.com/abduss/appdrive/internal/ownership"
	"github.com/abduss/appdrive/internal/tree"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serialTx struct {
	mu sync.Mutex
}

func (s *serialTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx)
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type quotaLedger struct {
	mu      sync.Mutex
	cap     int64
	used    map[string]int64
	pending map[string]int64
	status  map[string]account.Status
}

func newQuotaLedger(capBytes int64) *quotaLedger {
	return &quotaLedger{cap: capBytes, used: map[string]int64{}, pending: map[string]int64{}, status: map[string]account.Status{}}
}

func (l *quotaLedger) Reserve(_ context.Context, uid string, bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[uid]+l.pending[uid]+bytes > l.cap {
		return account.ErrQuotaExceeded
	}
	l.pending[uid] += bytes
	return nil
}

func (l *quotaLedger) Commit(_ context.Context, uid string, bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[uid] < bytes {
		return account.ErrReservationMissing
	}
	l.pending[uid] -= bytes
	l.used[uid] += bytes
	return nil
}

func (l *quotaLedger) Release(_ context.Context, uid string, bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[uid] = max(l.pending[uid]-bytes, 0)
	return nil
}

func (l *quotaLedger) Authorize(_ context.Context, uid string, c account.Capability) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, ok := l.status[uid]
	if !ok {
		status = account.StatusActive
	}
	if !status.Allows(c) {
		return account.ErrAccountNotActive
	}
	return nil
}

func (l *quotaLedger) Free(_ context.Context, uid string, bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used[uid] = max(l.used[uid]-bytes, 0)
	return nil
}

func (l *quotaLedger) totals(uid string) (used, pending int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[uid], l.pending[uid]
}

type memorySessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: map[uuid.UUID]Session{}}
}

func (m *memorySessions) Insert(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Status = StatusPending
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memorySessions) Get(_ context.Context, id uuid.UUID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *memorySessions) GetForUpdate(ctx context.Context, id uuid.UUID) (Session, error) {
	return m.Get(ctx, id)
}

func (m *memorySessions) MarkConfirmed(_ context.Context, id, fileID uuid.UUID, sizeBytes int64, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusPending {
		return Session{}, ErrSessionNotPending
	}
	s.Status = StatusConfirmed
	s.FileID = &fileID
	s.SizeBytes = sizeBytes
	s.CompletedAt = &at
	m.sessions[id] = s
	return s, nil
}

func (m *memorySessions) MarkTerminal(_ context.Context, id uuid.UUID, status Status, reason string, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusPending {
		return Session{}, ErrSessionNotPending
	}
	s.Status = status
	s.FailureReason = reason
	s.CompletedAt = &at
	m.sessions[id] = s
	return s, nil
}

func (m *memorySessions) ListExpiredPending(_ context.Context, before time.Time, limit int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status == StatusPending && s.ExpiresAt.Before(before) && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memorySessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type fixture struct {
	service  *Service
	sessions *memorySessions
	ledger   *quotaLedger
	blobs    *blobtest.Store
	nodes    *nodetest.Store
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	nodes := nodetest.NewStore()
	blobs := blobtest.NewStore()
	ledger := newQuotaLedger(1000)
	sessions := newMemorySessions()
	resolver := ownership.NewResolver(nodes, ledger, passthroughTx{}, zap.NewNop())
	files := tree.NewService(nodes, resolver, ledger, blobs, passthroughTx{}, tree.Options{}, zap.NewNop())

	f := &fixture{
		sessions: sessions,
		ledger:   ledger,
		blobs:    blobs,
		nodes:    nodes,
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewService(sessions, ledger, resolver, files, blobs, &serialTx{}, Options{
		SessionTTL:  time.Hour,
		MaxFileSize: 900,
	}, zap.NewNop())
	f.service.nowFunc = func() time.Time { return f.now }
	return f
}

func (f *fixture) presign(t *testing.T, name string, size int64) PresignResult {
	t.Helper()
	result, err := f.service.Presign(context.Background(), "user-1", PresignRequest{
		AppID:     "Notes",
		FileName:  name,
		SizeBytes: size,
		MimeType:  "text/plain",
	})
	require.NoError(t, err)
	return result
}

func TestPresignAndConfirmWithinCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.presign(t, "a.txt", 600)
	assert.Equal(t, StatusPending, first.Session.Status)
	assert.Equal(t, "notes", first.Session.AppID)
	assert.Equal(t, ownership.RootID("user-1", "notes"), first.Session.ParentID)
	assert.Equal(t, "text/plain", first.Upload.Headers["Content-Type"])

	_, err := f.service.Presign(ctx, "user-1", PresignRequest{AppID: "notes", FileName: "b.txt", SizeBytes: 500})
	require.ErrorIs(t, err, account.ErrQuotaExceeded)
	assert.Equal(t, 1, f.sessions.count(), "a rejected presign must not leave a session")

	f.blobs.PutObject(first.Session.BlobKey, 600, "text/plain")
	file, err := f.service.Confirm(ctx, "user-1", first.Session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(600), file.SizeBytes())
	assert.Equal(t, "a.txt", file.Name)

	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(600), used)
	assert.Equal(t, int64(0), pending)

	// the remaining 400 bytes fit exactly
	f.presign(t, "c.txt", 400)
	_, err = f.service.Presign(ctx, "user-1", PresignRequest{AppID: "notes", FileName: "d.txt", SizeBytes: 1})
	require.ErrorIs(t, err, account.ErrQuotaExceeded)

	session, err := f.service.Get(ctx, "user-1", first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, session.Status)
	require.NotNil(t, session.FileID)
	assert.Equal(t, file.ID, *session.FileID)
}

func TestPresignRejectsInactiveAccountBeforeTouchingTree(t *testing.T) {
	f := newFixture(t)
	f.ledger.status["user-1"] = account.StatusSuspended

	_, err := f.service.Presign(context.Background(), "user-1", PresignRequest{AppID: "notes", FileName: "a.txt", SizeBytes: 10})
	require.ErrorIs(t, err, account.ErrAccountNotActive)
	assert.Zero(t, f.nodes.Len(), "no app root may be created for a suspended account")
	assert.Zero(t, f.sessions.count())
	_, pending := f.ledger.totals("user-1")
	assert.Zero(t, pending)
}

func TestPresignValidatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Presign(ctx, "user-1", PresignRequest{AppID: "notes", FileName: "a.txt", SizeBytes: 0})
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = f.service.Presign(ctx, "user-1", PresignRequest{AppID: "notes", FileName: "a.txt", SizeBytes: 901})
	assert.ErrorIs(t, err, ErrFileTooLarge)
	_, err = f.service.Presign(ctx, "user-1", PresignRequest{AppID: "notes", FileName: "../x", SizeBytes: 1})
	assert.ErrorIs(t, err, tree.ErrInvalidName)
	_, err = f.service.Presign(ctx, "user-1", PresignRequest{AppID: "", FileName: "a.txt", SizeBytes: 1})
	assert.ErrorIs(t, err, ownership.ErrInvalidAppID)

	missing := uuid.New()
	_, err = f.service.Presign(ctx, "user-1", PresignRequest{AppID: "notes", ParentID: &missing, FileName: "a.txt", SizeBytes: 1})
	assert.ErrorIs(t, err, ownership.ErrParentNotFound)

	result := f.presign(t, "raw.bin", 5)
	assert.NotEmpty(t, result.Session.BlobKey)
	session, err := f.sessions.Get(ctx, result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", session.MimeType)

	defaulted, err := f.service.Presign(ctx, "user-1", PresignRequest{AppID: "notes", FileName: "blob", SizeBytes: 1})
	require.NoError(t, err)
	assert.Equal(t, defaultMimeType, defaulted.Session.MimeType)

	assert.Equal(t, 2, f.sessions.count())
	_, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(6), pending)
}

func TestConfirmTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result := f.presign(t, "a.txt", 100)
	f.blobs.PutObject(result.Session.BlobKey, 100, "text/plain")

	_, err := f.service.Confirm(ctx, "user-1", result.Session.ID, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, "user-1", result.Session.ID, nil)
	require.ErrorIs(t, err, ErrSessionNotPending)

	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(100), used)
	assert.Equal(t, int64(0), pending)
	assert.Equal(t, 2, f.nodes.Len(), "root and one file")
}

func TestConcurrentConfirmCreatesOneFile(t *testing.T) {
	f := newFixture(t)
	result := f.presign(t, "a.txt", 100)
	f.blobs.PutObject(result.Session.BlobKey, 100, "text/plain")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Confirm(context.Background(), "user-1", result.Session.ID, nil)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrSessionNotPending)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(100), used)
	assert.Equal(t, int64(0), pending)
}

func TestConfirmChecksUploadedObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := f.presign(t, "a.txt", 100)

	_, err := f.service.Confirm(ctx, "user-1", result.Session.ID, nil)
	require.ErrorIs(t, err, ErrUploadMissing)

	f.blobs.PutObject(result.Session.BlobKey, 0, "text/plain")
	_, err = f.service.Confirm(ctx, "user-1", result.Session.ID, nil)
	require.ErrorIs(t, err, ErrUploadMissing)

	f.blobs.PutObject(result.Session.BlobKey, 100, "text/plain")
	reported := int64(99)
	_, err = f.service.Confirm(ctx, "user-1", result.Session.ID, &reported)
	require.ErrorIs(t, err, ErrSizeMismatch)

	_, err = f.service.Confirm(ctx, "user-2", result.Session.ID, nil)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// failed confirms leave the session and its reservation in place
	session, err := f.sessions.Get(ctx, result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, session.Status)
	_, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(100), pending)

	_, err = f.service.Confirm(ctx, "user-1", result.Session.ID, nil)
	require.NoError(t, err)
}

func TestConfirmSettlesStoredSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	smaller := f.presign(t, "small.txt", 100)
	f.blobs.PutObject(smaller.Session.BlobKey, 80, "text/plain")
	file, err := f.service.Confirm(ctx, "user-1", smaller.Session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(80), file.SizeBytes())

	larger := f.presign(t, "large.txt", 100)
	f.blobs.PutObject(larger.Session.BlobKey, 150, "text/plain")
	_, err = f.service.Confirm(ctx, "user-1", larger.Session.ID, nil)
	require.NoError(t, err)

	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(230), used)
	assert.Equal(t, int64(0), pending)

	huge := f.presign(t, "huge.txt", 100)
	f.blobs.PutObject(huge.Session.BlobKey, 950, "text/plain")
	_, err = f.service.Confirm(ctx, "user-1", huge.Session.ID, nil)
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestConfirmDuplicateNameKeepsSessionPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.presign(t, "a.txt", 10)
	second := f.presign(t, "a.txt", 10)
	f.blobs.PutObject(first.Session.BlobKey, 10, "text/plain")
	f.blobs.PutObject(second.Session.BlobKey, 10, "text/plain")

	_, err := f.service.Confirm(ctx, "user-1", first.Session.ID, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, "user-1", second.Session.ID, nil)
	require.ErrorIs(t, err, node.ErrDuplicateName)

	session, err := f.sessions.Get(ctx, second.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, session.Status)

	_, err = f.service.Fail(ctx, "user-1", second.Session.ID, "")
	require.NoError(t, err)
	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(10), used)
	assert.Equal(t, int64(0), pending)
}

func TestFailReleasesReservationOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep := f.presign(t, "keep.txt", 300)
	drop := f.presign(t, "drop.txt", 200)
	f.blobs.PutObject(drop.Session.BlobKey, 200, "text/plain")

	_, err := f.service.Fail(ctx, "user-2", drop.Session.ID, "")
	require.ErrorIs(t, err, ErrSessionNotFound)

	failed, err := f.service.Fail(ctx, "user-1", drop.Session.ID, "client aborted")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "client aborted", failed.FailureReason)
	assert.False(t, f.blobs.Has(drop.Session.BlobKey), "orphaned object must be removed")

	_, err = f.service.Fail(ctx, "user-1", drop.Session.ID, "")
	require.ErrorIs(t, err, ErrSessionNotPending)
	_, err = f.service.Confirm(ctx, "user-1", drop.Session.ID, nil)
	require.ErrorIs(t, err, ErrSessionNotPending)

	_, pending := f.ledger.totals("user-1")
	assert.Equal(t, keep.Session.SizeBytes, pending)
}

func TestFailToleratesBlobDeleteErrors(t *testing.T) {
	f := newFixture(t)
	result := f.presign(t, "a.txt", 50)
	f.blobs.DeleteErr = assert.AnError

	_, err := f.service.Fail(context.Background(), "user-1", result.Session.ID, "")
	require.NoError(t, err)
	_, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(0), pending)
}

func TestSweepExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.presign(t, "old.txt", 100)
	confirmed := f.presign(t, "done.txt", 50)
	f.blobs.PutObject(confirmed.Session.BlobKey, 50, "text/plain")
	_, err := f.service.Confirm(ctx, "user-1", confirmed.Session.ID, nil)
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Minute)
	fresh := f.presign(t, "fresh.txt", 200)

	f.now = f.now.Add(45 * time.Minute)
	swept, err := f.service.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	session, err := f.sessions.Get(ctx, old.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, session.Status)

	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(50), used)
	assert.Equal(t, fresh.Session.SizeBytes, pending)

	again, err := f.service.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, again)

	_, err = f.service.Confirm(ctx, "user-1", old.Session.ID, nil)
	require.ErrorIs(t, err, ErrSessionNotPending)
}

func TestConfirmAfterDeadlineExpiresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result := f.presign(t, "late.txt", 100)
	f.blobs.PutObject(result.Session.BlobKey, 100, "text/plain")
	f.now = f.now.Add(2 * time.Hour)

	_, err := f.service.Confirm(ctx, "user-1", result.Session.ID, nil)
	require.ErrorIs(t, err, ErrSessionExpired)

	session, err := f.sessions.Get(ctx, result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, session.Status)
	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(0), used)
	assert.Equal(t, int64(0), pending)
	assert.Equal(t, 1, f.nodes.Len(), "no file node for an expired session")
}

func TestReservationsAreConserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var results []PresignResult
	for _, name := range []string{"1", "2", "3", "4", "5", "6"} {
		results = append(results, f.presign(t, name, 100))
	}
	_, pending := f.ledger.totals("user-1")
	require.Equal(t, int64(600), pending)

	for _, r := range results[:2] {
		f.blobs.PutObject(r.Session.BlobKey, 100, "text/plain")
		_, err := f.service.Confirm(ctx, "user-1", r.Session.ID, nil)
		require.NoError(t, err)
	}
	for _, r := range results[2:4] {
		_, err := f.service.Fail(ctx, "user-1", r.Session.ID, "")
		require.NoError(t, err)
	}
	f.now = f.now.Add(2 * time.Hour)
	swept, err := f.service.SweepExpired(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, swept)
	swept, err = f.service.SweepExpired(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	used, pending := f.ledger.totals("user-1")
	assert.Equal(t, int64(200), used)
	assert.Equal(t, int64(0), pending)
}
