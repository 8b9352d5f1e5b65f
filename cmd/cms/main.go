package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"mcpcms/pkg/audit"
	"mcpcms/pkg/auth"
	"mcpcms/pkg/content"
	"mcpcms/pkg/events"
	"mcpcms/pkg/hardening"
	"mcpcms/pkg/httpx"
	"mcpcms/pkg/metrics"
	"mcpcms/pkg/models"
	"mcpcms/pkg/ratelimit"
	"mcpcms/pkg/rbac"
	"mcpcms/pkg/store"
	"mcpcms/pkg/stream"
	"mcpcms/pkg/telemetry"
	"mcpcms/pkg/tools"
	"mcpcms/pkg/users"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	Users               userDirectory
	Content             contentStore
	Tools               *tools.Registry
	Audit               auditStore
	Cache               store.Cache
	Redis               *redis.Client
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Publisher           *events.KafkaPublisher
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	RateLimitWindow     time.Duration
	AuthMode            string
	AuthSecret          string
	AuditSalt           []byte
	MaxRequestBodyBytes int64
	StatsCacheTTL       time.Duration
}

type userDirectory interface {
	FindBySubject(ctx context.Context, subjectID string) (models.User, error)
	Register(ctx context.Context, subjectID, email, name string) (models.User, bool, error)
}

type contentStore interface {
	CreatePage(ctx context.Context, in content.PageInput, authorID string) (models.Page, error)
	GetPage(ctx context.Context, id string) (models.Page, error)
	ListPages(ctx context.Context) ([]models.Page, error)
	UpdatePage(ctx context.Context, id string, patch content.PagePatch) (models.Page, error)
	DeletePage(ctx context.Context, id string) error
	CreateArticle(ctx context.Context, in content.ArticleInput, authorID string) (models.Article, error)
	GetArticle(ctx context.Context, id string) (models.Article, error)
	ListArticles(ctx context.Context) ([]models.Article, error)
	UpdateArticle(ctx context.Context, id string, patch content.ArticlePatch) (models.Article, error)
	DeleteArticle(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id string) (models.Category, error)
	ListMedia(ctx context.Context) ([]models.MediaFile, error)
	Stats(ctx context.Context) (models.DashboardStats, error)
}

type auditStore interface {
	Append(ctx context.Context, rec audit.Record) error
}

type cmsDBCloser interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type (
	cmsInitTelemetryFunc func(ctx context.Context, serviceName string) (func(context.Context) error, error)
	cmsOpenDBFunc        func(ctx context.Context) (cmsDBCloser, error)
	cmsOpenRedisFunc     func(ctx context.Context) (*redis.Client, error)
	cmsListenFunc        func(server *http.Server) error
	cmsStartLoopsFunc    func(s *Server)
)

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	initTelemetry = telemetry.Init
	openDBFn      = func(ctx context.Context) (cmsDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFn   = store.NewRedis
	listenFn      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFn  = func(s *Server) {
		go s.metricsLoop(context.Background())
		if s.Publisher != nil {
			go events.Forward(context.Background(), s.Events, s.Publisher)
		}
	}
)

func main() {
	if err := runCMS(initTelemetry, openDBFn, openRedisFn, listenFn, startLoopsFn); err != nil {
		logFatalf("cms: %v", err)
	}
}

func runCMS(
	initTelemetry cmsInitTelemetryFunc,
	openDB cmsOpenDBFunc,
	openRedis cmsOpenRedisFunc,
	listen cmsListenFunc,
	startLoops cmsStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "cms")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	statsCacheTTL := time.Second * time.Duration(envInt("STATS_CACHE_TTL_SEC", 30))
	if statsCacheTTL <= 0 {
		statsCacheTTL = 30 * time.Second
	}
	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}
	auditSalt := env("AUDIT_HASH_SALT", "")
	auditRedact := strings.EqualFold(strings.TrimSpace(env("AUDIT_REDACT", "false")), "true")

	contentStore := &content.Store{DB: pool}
	directory := &users.Directory{DB: pool}
	registry := tools.NewRegistry()
	tools.RegisterBuiltin(registry, contentStore, directory)

	s := &Server{
		Users:               directory,
		Content:             contentStore,
		Tools:               registry,
		Audit:               &audit.Writer{DB: pool, HashSalt: []byte(auditSalt), Redact: auditRedact},
		Cache:               cache,
		Redis:               redisClient,
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 240),
		RateLimitWindow:     rateLimitWindow,
		AuthMode:            env("AUTH_MODE", "oidc_hs256"),
		AuthSecret:          env("OIDC_HS256_SECRET", ""),
		AuditSalt:           []byte(auditSalt),
		MaxRequestBodyBytes: maxRequestBodyBytes,
		StatsCacheTTL:       statsCacheTTL,
	}

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if strings.EqualFold(s.AuthMode, "off") {
		if env("ALLOW_INSECURE_AUTH_OFF", "false") != "true" {
			return errors.New("AUTH_MODE=off is disabled unless ALLOW_INSECURE_AUTH_OFF=true")
		}
		if isProductionLikeEnv(runtimeEnv) {
			return errors.New("AUTH_MODE=off is forbidden in production-like environments")
		}
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "cms",
		Environment:           runtimeEnv,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		AuthMode:              s.AuthMode,
		AuthSecret:            s.AuthSecret,
	}); err != nil {
		return err
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}
	if brokers := env("KAFKA_BROKERS", ""); brokers != "" {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_EVENTS_TOPIC", "cms.events"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		s.Publisher = pub
		defer pub.Close()
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("cms"))
	r.Use(s.limitRequestBodyMiddleware)
	health := func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
	r.Get("/health", health)
	r.Get("/api/health", health)

	authRouter := chi.NewRouter()
	authTimeout := time.Millisecond * time.Duration(envInt("AUTH_TIMEOUT_MS", 5000))
	authRouter.Use(auth.Middleware(
		s.AuthMode,
		s.AuthSecret,
		auth.WithJWKS(env("OIDC_JWKS_URL", "")),
		auth.WithIssuer(env("OIDC_ISSUER", "")),
		auth.WithAudience(env("OIDC_AUDIENCE", "")),
		auth.WithVerifierURL(env("TOKEN_VERIFIER_URL", "")),
		auth.WithTimeout(authTimeout),
		auth.WithRetries(envInt("TOKEN_VERIFIER_RETRIES", 1), time.Millisecond*time.Duration(envInt("TOKEN_VERIFIER_RETRY_DELAY_MS", 50))),
	))
	authRouter.Post("/auth/register", s.withRoles(s.handleRegister, rbac.RoleAdmin))
	authRouter.Get("/auth/me", s.withUser(s.handleMe))
	authRouter.Get("/pages", s.withUser(s.listPages))
	authRouter.Post("/pages", s.withRoles(s.createPage, rbac.ContentManagers...))
	authRouter.Get("/pages/{page_id}", s.withUser(s.getPage))
	authRouter.Put("/pages/{page_id}", s.withRoles(s.updatePage, rbac.ContentManagers...))
	authRouter.Delete("/pages/{page_id}", s.withRoles(s.deletePage, rbac.Elevated...))
	authRouter.Get("/articles", s.withUser(s.listArticles))
	authRouter.Post("/articles", s.withRoles(s.createArticle, rbac.ContentManagers...))
	authRouter.Get("/articles/{article_id}", s.withUser(s.getArticle))
	authRouter.Put("/articles/{article_id}", s.withRoles(s.updateArticle, rbac.ContentManagers...))
	authRouter.Delete("/articles/{article_id}", s.withRoles(s.deleteArticle, rbac.Elevated...))
	authRouter.Get("/categories", s.withUser(s.listCategories))
	authRouter.Get("/categories/{category_id}", s.withUser(s.getCategory))
	authRouter.Get("/media", s.withUser(s.listMedia))
	authRouter.Get("/dashboard/stats", s.withRoles(s.dashboardStats, rbac.Elevated...))
	authRouter.Post("/mcp/dispatch", s.withUser(s.handleDispatch))
	authRouter.Get("/mcp/tools", s.withUser(s.listTools))
	authRouter.Get("/metrics", s.withRoles(dropUser(s.Metrics.Handler()), rbac.RoleAdmin))
	authRouter.Get("/metrics/prometheus", s.withRoles(dropUser(s.Metrics.PrometheusHandler()), rbac.RoleAdmin))
	authRouter.Get("/events", s.withRoles(s.streamEvents, rbac.Elevated...))
	r.Mount("/api", authRouter)

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8000")
	log.Printf("cms listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// errNoAccount marks every identity failure handled as 401: missing
// principal, unregistered subject, deactivated account.
var errNoAccount = errors.New("no active account for principal")

// currentUser resolves the authenticated principal to a local account. In
// off mode there is no principal worth trusting, so a synthetic admin stands
// in; that mode is refused outside development at startup. Directory errors
// other than a missing row propagate so callers can answer 502 instead of
// blaming the credential.
func (s *Server) currentUser(r *http.Request) (models.User, error) {
	if strings.EqualFold(s.AuthMode, "off") {
		return models.User{
			ID:                "dev-admin",
			ExternalSubjectID: "dev-admin",
			Email:             "dev@localhost",
			Name:              "Dev Admin",
			Role:              string(rbac.RoleAdmin),
			IsActive:          true,
		}, nil
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return models.User{}, errNoAccount
	}
	u, err := s.Users.FindBySubject(r.Context(), principal.Subject)
	if errors.Is(err, users.ErrNotFound) {
		return models.User{}, errNoAccount
	}
	if err != nil {
		return models.User{}, err
	}
	if !u.IsActive {
		return models.User{}, errNoAccount
	}
	return u, nil
}

func writeUserError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNoAccount) {
		httpx.Error(w, http.StatusUnauthorized, "Authentication failed", "authentication_failed")
		return
	}
	httpx.Error(w, http.StatusBadGateway, "user directory unavailable", "dependency_failed")
}

// withUser requires a registered, active account but no particular role.
func (s *Server) withUser(h func(http.ResponseWriter, *http.Request, models.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.currentUser(r)
		if err != nil {
			writeUserError(w, err)
			return
		}
		h(w, r, u)
	}
}

func dropUser(h http.HandlerFunc) func(http.ResponseWriter, *http.Request, models.User) {
	return func(w http.ResponseWriter, r *http.Request, _ models.User) {
		h(w, r)
	}
}

// withRoles adds a role gate on top of withUser. Roles come from the
// directory row, never from token claims.
func (s *Server) withRoles(h func(http.ResponseWriter, *http.Request, models.User), roles ...rbac.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.currentUser(r)
		if err != nil {
			writeUserError(w, err)
			return
		}
		role, parsed := rbac.Parse(u.Role)
		if !parsed || !rbac.Allowed(roles, role) {
			httpx.Error(w, http.StatusForbidden, "Insufficient permissions", "insufficient_role")
			return
		}
		h(w, r, u)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		s.Metrics.Observe(path, rec.code, elapsed)
		s.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				httpx.Error(w, http.StatusInternalServerError, "internal error", "internal_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	s.updateOperationalMetrics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateOperationalMetrics(ctx)
		}
	}
}

func (s *Server) updateOperationalMetrics(ctx context.Context) {
	if s.Content == nil || s.Metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	stats, err := s.Content.Stats(ctx)
	if err != nil {
		return
	}
	s.Metrics.SetGauge("pages_total", float64(stats.TotalPages))
	s.Metrics.SetGauge("pages_published", float64(stats.PublishedPages))
	s.Metrics.SetGauge("articles_total", float64(stats.TotalArticles))
	s.Metrics.SetGauge("articles_published", float64(stats.PublishedArticles))
	s.Metrics.SetGauge("users_total", float64(stats.TotalUsers))
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
