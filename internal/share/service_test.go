package share

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/abduss/appdrive/internal/blob/blobtest"
	"github.com/abduss/appdrive/internal/node"
	"github.com/abduss/appdrive/internal/node/nodetest"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type memoryLinks struct {
	mu           sync.Mutex
	links        map[string]Link
	incrementErr error
}

func newMemoryLinks() *memoryLinks {
	return &memoryLinks{links: map[string]Link{}}
}

func (m *memoryLinks) Insert(_ context.Context, l Link) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[l.Token]; ok {
		return Link{}, errTokenTaken
	}
	l.IsActive = true
	m.links[l.Token] = l
	return l, nil
}

func (m *memoryLinks) Get(_ context.Context, token string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[token]
	if !ok {
		return Link{}, ErrShareNotFound
	}
	return l, nil
}

func (m *memoryLinks) IncrementDownloads(_ context.Context, token string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErr != nil {
		return Link{}, m.incrementErr
	}
	l, ok := m.links[token]
	if !ok {
		return Link{}, ErrShareNotFound
	}
	l.DownloadCount++
	m.links[token] = l
	return l, nil
}

func (m *memoryLinks) Deactivate(_ context.Context, token string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[token]
	if !ok {
		return Link{}, ErrShareNotFound
	}
	l.IsActive = false
	m.links[token] = l
	return l, nil
}

func (m *memoryLinks) ListByFile(_ context.Context, fileID uuid.UUID) ([]Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Link
	for _, l := range m.links {
		if l.FileID == fileID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type statusLedger struct {
	mu     sync.Mutex
	status map[string]account.Status
}

func (l *statusLedger) set(uid string, status account.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status[uid] = status
}

func (l *statusLedger) Authorize(_ context.Context, uid string, c account.Capability) error {
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

type fixture struct {
	service *Service
	ledger  *statusLedger
	links   *memoryLinks
	nodes   *nodetest.Store
	now     time.Time
	folder  node.Node
	file    node.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: &statusLedger{status: map[string]account.Status{}},
		links:  newMemoryLinks(),
		nodes:  nodetest.NewStore(),
		now:    time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.links, f.nodes, f.ledger, blobtest.NewStore(), Options{
		DefaultTTL:    24 * time.Hour,
		MaxTTL:        48 * time.Hour,
		TokenBytes:    32,
		DownloadTTL:   time.Minute,
		PublicBaseURL: "https://drive.test/",
	}, zap.NewNop())
	f.service.nowFunc = func() time.Time { return f.now }

	root := node.NewFolder(uuid.New(), "owner", node.Owned("notes"), nil, "notes", f.now)
	f.folder = node.NewFolder(uuid.New(), "owner", root.Namespace, &root, "Docs", f.now)
	f.file = node.NewFile(uuid.New(), "owner", root.Namespace, f.folder, "report.pdf", node.FileInfo{
		SizeBytes: 42,
		MimeType:  "application/pdf",
		BlobKey:   "owners/owner/report.pdf",
	}, f.now)
	for _, n := range []node.Node{root, f.folder, f.file} {
		f.nodes.Put(n)
	}
	return f
}

func TestCreateValidatesFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, "owner", uuid.New(), 0); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if _, err := f.service.Create(ctx, "intruder", f.file.ID, 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := f.service.Create(ctx, "owner", f.folder.ID, 0); !errors.Is(err, ErrNotAFile) {
		t.Fatalf("expected ErrNotAFile, got %v", err)
	}
	if _, err := f.service.Create(ctx, "owner", f.file.ID, 72*time.Hour); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}

	if _, err := f.nodes.Trash(ctx, f.folder.ID, f.now, f.now.Add(time.Hour)); err != nil {
		t.Fatalf("Trash returned error: %v", err)
	}
	if _, err := f.service.Create(ctx, "owner", f.file.ID, 0); !errors.Is(err, ErrFileDeleted) {
		t.Fatalf("expected ErrFileDeleted under a trashed folder, got %v", err)
	}
}

func TestAccountStatusGatesLinkManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.service.Create(ctx, "owner", f.file.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	f.ledger.set("owner", account.StatusExpired)
	if _, err := f.service.Create(ctx, "owner", f.file.ID, 0); !errors.Is(err, account.ErrAccountNotActive) {
		t.Fatalf("expired Create: expected ErrAccountNotActive, got %v", err)
	}
	if links, err := f.service.ListForFile(ctx, "owner", f.file.ID); err != nil || len(links) != 1 {
		t.Fatalf("expired accounts may list links: %d links, %v", len(links), err)
	}

	f.ledger.set("owner", account.StatusSuspended)
	if _, err := f.service.Create(ctx, "owner", f.file.ID, 0); !errors.Is(err, account.ErrAccountNotActive) {
		t.Fatalf("suspended Create: expected ErrAccountNotActive, got %v", err)
	}
	if _, err := f.service.ListForFile(ctx, "owner", f.file.ID); !errors.Is(err, account.ErrAccountNotActive) {
		t.Fatalf("suspended ListForFile: expected ErrAccountNotActive, got %v", err)
	}
	if _, err := f.service.Revoke(ctx, "owner", link.Token); !errors.Is(err, account.ErrAccountNotActive) {
		t.Fatalf("suspended Revoke: expected ErrAccountNotActive, got %v", err)
	}
	if got := len(f.links.links); got != 1 {
		t.Fatalf("expected one stored link, got %d", got)
	}

	f.ledger.set("owner", account.StatusExpired)
	if _, err := f.service.Revoke(ctx, "owner", link.Token); err != nil {
		t.Fatalf("expired accounts may revoke: %v", err)
	}
}

func TestCreateIssuesUnguessableTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		link, err := f.service.Create(ctx, "owner", f.file.ID, 0)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if len(link.Token) != 43 {
			t.Fatalf("expected a 43 character token, got %q", link.Token)
		}
		if seen[link.Token] {
			t.Fatalf("token %q issued twice", link.Token)
		}
		seen[link.Token] = true
		if link.URL != "https://drive.test/s/"+link.Token {
			t.Fatalf("unexpected public url %q", link.URL)
		}
		if !link.ExpiresAt.Equal(f.now.Add(24*time.Hour)) || !link.IsActive {
			t.Fatalf("unexpected link: %+v", link)
		}
	}
}

func TestResolveHonoursExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.now

	link, err := f.service.Create(ctx, "owner", f.file.ID, time.Hour)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	f.now = created.Add(time.Hour - time.Millisecond)
	resolved, err := f.service.Resolve(ctx, link.Token)
	if err != nil {
		t.Fatalf("Resolve just before expiry returned error: %v", err)
	}
	if resolved.File.ID != f.file.ID {
		t.Fatalf("resolved the wrong file: %+v", resolved.File)
	}

	f.now = created.Add(time.Hour + time.Millisecond)
	if _, err := f.service.Resolve(ctx, link.Token); !errors.Is(err, ErrShareExpired) {
		t.Fatalf("expected ErrShareExpired, got %v", err)
	}
	if _, err := f.service.Resolve(ctx, "missing"); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("expected ErrShareNotFound, got %v", err)
	}
}

func TestRevokeAndDownloadCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.service.Create(ctx, "owner", f.file.ID, time.Hour)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	dl, err := f.service.Download(ctx, link.Token)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if dl.URL != "https://blob.test/download/owners/owner/report.pdf?ttl=1m0s" || dl.Link.DownloadCount != 1 {
		t.Fatalf("unexpected download: %+v", dl)
	}
	if err := f.service.RecordDownload(ctx, link.Token); err != nil {
		t.Fatalf("RecordDownload returned error: %v", err)
	}
	stored, _ := f.links.Get(ctx, link.Token)
	if stored.DownloadCount != 2 {
		t.Fatalf("expected 2 downloads, got %d", stored.DownloadCount)
	}

	if _, err := f.service.Revoke(ctx, "intruder", link.Token); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	revoked, err := f.service.Revoke(ctx, "owner", link.Token)
	if err != nil || revoked.IsActive {
		t.Fatalf("expected revoked link, got %+v (%v)", revoked, err)
	}
	if _, err := f.service.Revoke(ctx, "owner", link.Token); err != nil {
		t.Fatalf("second revoke must succeed, got %v", err)
	}
	if _, err := f.service.Resolve(ctx, link.Token); !errors.Is(err, ErrShareRevoked) {
		t.Fatalf("expected ErrShareRevoked, got %v", err)
	}

	// revocation wins over expiry
	f.now = f.now.Add(2 * time.Hour)
	if _, err := f.service.Resolve(ctx, link.Token); !errors.Is(err, ErrShareRevoked) {
		t.Fatalf("expected ErrShareRevoked after expiry, got %v", err)
	}
}

func TestDownloadSurvivesCounterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, err := f.service.Create(ctx, "owner", f.file.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	f.links.incrementErr = errors.New("database unavailable")
	dl, err := f.service.Download(ctx, link.Token)
	if err != nil {
		t.Fatalf("Download must not fail on counter errors, got %v", err)
	}
	if dl.URL == "" || dl.Link.DownloadCount != 0 {
		t.Fatalf("unexpected download: %+v", dl)
	}
}

func TestResolveRejectsDeletedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link, err := f.service.Create(ctx, "owner", f.file.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := f.nodes.Trash(ctx, f.file.ID, f.now, f.now.Add(time.Hour)); err != nil {
		t.Fatalf("Trash returned error: %v", err)
	}
	if _, err := f.service.Resolve(ctx, link.Token); !errors.Is(err, ErrFileDeleted) {
		t.Fatalf("expected ErrFileDeleted for trashed file, got %v", err)
	}

	if _, _, err := f.nodes.Remove(ctx, f.file.ID); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := f.service.Resolve(ctx, link.Token); !errors.Is(err, ErrFileDeleted) {
		t.Fatalf("expected ErrFileDeleted for removed file, got %v", err)
	}
}

func TestListForFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.service.ListForFile(ctx, "owner", f.file.ID)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected an empty list, got %v (%v)", empty, err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.service.Create(ctx, "owner", f.file.ID, 0); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		f.now = f.now.Add(time.Minute)
	}
	links, err := f.service.ListForFile(ctx, "owner", f.file.ID)
	if err != nil {
		t.Fatalf("ListForFile returned error: %v", err)
	}
	if len(links) != 3 || !links[0].CreatedAt.After(links[2].CreatedAt) {
		t.Fatalf("expected three links newest first, got %+v", links)
	}
	if _, err := f.service.ListForFile(ctx, "intruder", f.file.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestPublicRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	link, err := f.service.Create(context.Background(), "owner", f.file.ID, 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	router := gin.New()
	RegisterPublicRoutes(router.Group("/s"), f.service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/s/"+link.Token+"/download", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://blob.test/download/owners/owner/report.pdf?ttl=1m0s" {
		t.Fatalf("unexpected redirect: %s", loc)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/s/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type ownerVerifier struct{}

func (ownerVerifier) Verify(context.Context, string) (auth.Identity, error) {
	return auth.Identity{Subject: "owner"}, nil
}

func TestCreateRouteRejectsOutOfRangeTTL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)

	router := gin.New()
	group := router.Group("/v1")
	group.Use(auth.Middleware(ownerVerifier{}))
	RegisterRoutes(group, f.service)

	create := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/nodes/"+f.file.ID.String()+"/shares", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer token")
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for _, body := range []string{
		`{"ttl_seconds": 9300000000}`,
		`{"ttl_seconds": 9223372036854775807}`,
		`{"ttl_seconds": 259200}`,
	} {
		if rec := create(body); rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid_ttl") {
			t.Fatalf("%s: expected 400 invalid_ttl, got %d %s", body, rec.Code, rec.Body.String())
		}
	}
	if got := len(f.links.links); got != 0 {
		t.Fatalf("rejected requests stored %d links", got)
	}

	if rec := create(`{"ttl_seconds": 3600}`); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
}
