package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mcpcms/pkg/audit"
	"mcpcms/pkg/auth"
	"mcpcms/pkg/content"
	"mcpcms/pkg/metrics"
	"mcpcms/pkg/models"
	"mcpcms/pkg/rbac"
	"mcpcms/pkg/store"
	"mcpcms/pkg/stream"
	"mcpcms/pkg/tools"
	"mcpcms/pkg/users"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type fakeDirectory struct {
	bySubject   map[string]models.User
	created     []models.User
	registerErr error
	findErr     error
}

func (f *fakeDirectory) FindBySubject(_ context.Context, subjectID string) (models.User, error) {
	if f.findErr != nil {
		return models.User{}, f.findErr
	}
	u, ok := f.bySubject[subjectID]
	if !ok {
		return models.User{}, users.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) Register(_ context.Context, subjectID, email, name string) (models.User, bool, error) {
	if f.registerErr != nil {
		return models.User{}, false, f.registerErr
	}
	if u, ok := f.bySubject[subjectID]; ok {
		return u, false, nil
	}
	u := models.User{ID: "new-" + subjectID, ExternalSubjectID: subjectID, Email: email, Name: name, Role: "viewer", IsActive: true}
	f.created = append(f.created, u)
	return u, true, nil
}

type fakeStore struct {
	pages      map[string]models.Page
	articles   map[string]models.Article
	statsCalls int
	stats      models.DashboardStats
	err        error
}

func (f *fakeStore) CreatePage(_ context.Context, in content.PageInput, authorID string) (models.Page, error) {
	if f.err != nil {
		return models.Page{}, f.err
	}
	if in.Title == "" {
		return models.Page{}, content.ErrInvalidInput
	}
	p := models.Page{ID: "p-new", Title: in.Title, Slug: content.Slugify(in.Title), AuthorID: authorID, Status: "draft"}
	return p, nil
}

func (f *fakeStore) GetPage(_ context.Context, id string) (models.Page, error) {
	p, ok := f.pages[id]
	if !ok {
		return models.Page{}, content.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPages(context.Context) ([]models.Page, error) {
	out := []models.Page{}
	for _, p := range f.pages {
		out = append(out, p)
	}
	return out, f.err
}

func (f *fakeStore) UpdatePage(_ context.Context, id string, patch content.PagePatch) (models.Page, error) {
	p, ok := f.pages[id]
	if !ok {
		return models.Page{}, content.ErrNotFound
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	return p, nil
}

func (f *fakeStore) DeletePage(_ context.Context, id string) error {
	if _, ok := f.pages[id]; !ok {
		return content.ErrNotFound
	}
	delete(f.pages, id)
	return nil
}

func (f *fakeStore) CreateArticle(_ context.Context, in content.ArticleInput, authorID string) (models.Article, error) {
	if f.err != nil {
		return models.Article{}, f.err
	}
	return models.Article{ID: "a-new", Title: in.Title, Slug: content.Slugify(in.Title), AuthorID: authorID, Status: "draft"}, nil
}

func (f *fakeStore) GetArticle(_ context.Context, id string) (models.Article, error) {
	a, ok := f.articles[id]
	if !ok {
		return models.Article{}, content.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListArticles(context.Context) ([]models.Article, error) {
	out := []models.Article{}
	for _, a := range f.articles {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) UpdateArticle(_ context.Context, id string, patch content.ArticlePatch) (models.Article, error) {
	a, ok := f.articles[id]
	if !ok {
		return models.Article{}, content.ErrNotFound
	}
	if patch.Title != nil {
		a.Title = *patch.Title
	}
	return a, nil
}

func (f *fakeStore) DeleteArticle(_ context.Context, id string) error {
	if _, ok := f.articles[id]; !ok {
		return content.ErrNotFound
	}
	delete(f.articles, id)
	return nil
}

func (f *fakeStore) ListCategories(context.Context) ([]models.Category, error) {
	return []models.Category{}, nil
}

func (f *fakeStore) GetCategory(_ context.Context, id string) (models.Category, error) {
	return models.Category{}, content.ErrNotFound
}

func (f *fakeStore) ListMedia(context.Context) ([]models.MediaFile, error) {
	return []models.MediaFile{}, nil
}

func (f *fakeStore) Stats(context.Context) (models.DashboardStats, error) {
	f.statsCalls++
	return f.stats, f.err
}

type fakeAudit struct {
	records []audit.Record
	err     error
}

func (f *fakeAudit) Append(_ context.Context, rec audit.Record) error {
	f.records = append(f.records, rec)
	return f.err
}

func newTestServer(dir *fakeDirectory, cs *fakeStore) *Server {
	registry := tools.NewRegistry()
	tools.RegisterBuiltin(registry, cs, toolUserCreator{dir})
	return &Server{
		Users:         dir,
		Content:       cs,
		Tools:         registry,
		Audit:         &fakeAudit{},
		Cache:         store.NewMemoryCache(),
		Metrics:       metrics.NewRegistry(),
		Events:        stream.NewHub(),
		AuthMode:      "oidc_hs256",
		StatsCacheTTL: time.Minute,
	}
}

// toolUserCreator adapts the handler-facing fake to the tool-side Create.
type toolUserCreator struct{ dir *fakeDirectory }

func (t toolUserCreator) Create(_ context.Context, subjectID, email, name string, role rbac.Role) (models.User, error) {
	if _, ok := t.dir.bySubject[subjectID]; ok {
		return models.User{}, users.ErrDuplicate
	}
	u := models.User{ID: "tool-" + subjectID, ExternalSubjectID: subjectID, Email: email, Name: name, Role: string(role), IsActive: true}
	t.dir.created = append(t.dir.created, u)
	return u, nil
}

func requestAs(t *testing.T, method, target, body string, subject string) *http.Request {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if subject != "" {
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{Subject: subject}))
	}
	return req
}

func TestWithUserUnauthenticated(t *testing.T) {
	s := newTestServer(&fakeDirectory{bySubject: map[string]models.User{}}, &fakeStore{})
	h := s.withUser(func(w http.ResponseWriter, r *http.Request, u models.User) {
		t.Fatal("handler must not run without a principal")
	})
	rec := httptest.NewRecorder()
	h(rec, requestAs(t, http.MethodGet, "/api/pages", "", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWithUserUnknownSubject(t *testing.T) {
	s := newTestServer(&fakeDirectory{bySubject: map[string]models.User{}}, &fakeStore{})
	h := s.withUser(func(w http.ResponseWriter, r *http.Request, u models.User) {
		t.Fatal("handler must not run for unregistered subjects")
	})
	rec := httptest.NewRecorder()
	h(rec, requestAs(t, http.MethodGet, "/api/pages", "", "ghost"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("valid token without an account must be 401, got %d", rec.Code)
	}
}

func TestWithUserDirectoryOutage(t *testing.T) {
	dir := &fakeDirectory{findErr: errors.New("connection refused")}
	s := newTestServer(dir, &fakeStore{})
	h := s.withUser(func(w http.ResponseWriter, r *http.Request, u models.User) {
		t.Fatal("handler must not run when the directory is down")
	})
	rec := httptest.NewRecorder()
	h(rec, requestAs(t, http.MethodGet, "/api/pages", "", "sub-1"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("directory failure must be 502, not a credential error, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dependency_failed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWithUserInactiveAccount(t *testing.T) {
	dir := &fakeDirectory{bySubject: map[string]models.User{
		"sub-1": {ID: "u1", ExternalSubjectID: "sub-1", Role: "editor", IsActive: false},
	}}
	s := newTestServer(dir, &fakeStore{})
	h := s.withUser(func(w http.ResponseWriter, r *http.Request, u models.User) {
		t.Fatal("inactive accounts must not pass")
	})
	rec := httptest.NewRecorder()
	h(rec, requestAs(t, http.MethodGet, "/api/pages", "", "sub-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWithRolesForbidden(t *testing.T) {
	dir := &fakeDirectory{bySubject: map[string]models.User{
		"sub-v": {ID: "uv", ExternalSubjectID: "sub-v", Role: "viewer", IsActive: true},
	}}
	s := newTestServer(dir, &fakeStore{})
	h := s.withRoles(func(w http.ResponseWriter, r *http.Request, u models.User) {
		t.Fatal("viewer must not create content")
	}, "admin", "editor", "author")
	rec := httptest.NewRecorder()
	h(rec, requestAs(t, http.MethodPost, "/api/pages", `{}`, "sub-v"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthModeOffSyntheticAdmin(t *testing.T) {
	s := newTestServer(&fakeDirectory{}, &fakeStore{})
	s.AuthMode = "off"
	var got models.User
	h := s.withRoles(func(w http.ResponseWriter, r *http.Request, u models.User) {
		got = u
		w.WriteHeader(http.StatusOK)
	}, "admin")
	rec := httptest.NewRecorder()
	h(rec, requestAs(t, http.MethodGet, "/api/dashboard/stats", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("off mode should grant access, got %d", rec.Code)
	}
	if got.Role != "admin" {
		t.Fatalf("expected synthetic admin, got %+v", got)
	}
}

type fakePool struct{}

func (fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("SELECT 0"), nil
}
func (fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, pgx.ErrNoRows }
func (fakePool) QueryRow(context.Context, string, ...any) pgx.Row        { return errRow{} }
func (fakePool) Close()                                                  {}

type errRow struct{}

func (errRow) Scan(...any) error { return pgx.ErrNoRows }

func TestRunCMSStartsAndServesHealth(t *testing.T) {
	t.Setenv("AUTH_MODE", "oidc_hs256")
	t.Setenv("OIDC_HS256_SECRET", "k")
	t.Setenv("ENVIRONMENT", "test")
	var built *http.Server
	err := runCMS(
		func(context.Context, string) (func(context.Context) error, error) {
			return func(context.Context) error { return nil }, nil
		},
		func(context.Context) (cmsDBCloser, error) { return fakePool{}, nil },
		func(context.Context) (*redis.Client, error) { return nil, context.DeadlineExceeded },
		func(server *http.Server) error { built = server; return nil },
		nil,
	)
	if err != nil {
		t.Fatalf("runCMS: %v", err)
	}
	if built == nil {
		t.Fatal("listen never received a server")
	}
	rec := httptest.NewRecorder()
	built.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status = %q, want healthy", body["status"])
	}
	if body["timestamp"] == "" {
		t.Fatal("health response missing timestamp")
	}
	rec = httptest.NewRecorder()
	built.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated API access must be 401, got %d", rec.Code)
	}
}

func TestRunCMSRefusesAuthOff(t *testing.T) {
	t.Setenv("AUTH_MODE", "off")
	t.Setenv("ALLOW_INSECURE_AUTH_OFF", "false")
	err := runCMS(
		func(context.Context, string) (func(context.Context) error, error) {
			return func(context.Context) error { return nil }, nil
		},
		func(context.Context) (cmsDBCloser, error) { return fakePool{}, nil },
		func(context.Context) (*redis.Client, error) { return nil, context.DeadlineExceeded },
		func(*http.Server) error { return nil },
		nil,
	)
	if err == nil {
		t.Fatal("AUTH_MODE=off without the explicit override must refuse to start")
	}
}
