package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/leadflow/leadflow/internal/config"
	"github.com/leadflow/leadflow/internal/crm"
	"github.com/leadflow/leadflow/internal/metrics"
	"github.com/leadflow/leadflow/internal/store"
)

const (
	defaultRateLimit = 30
	rateIdleTTL      = 10 * time.Minute
	maxJSONBody      = 1 << 20
)

// RateLimiter hands each client its own token bucket.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client, bursting to a
// tenth of that.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = defaultRateLimit
	}
	rl := &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   max(1, perMinute/10),
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		cutoff := time.Now().Add(-rateIdleTTL)
		for key, c := range rl.clients {
			if c.lastSeen.Before(cutoff) {
				delete(rl.clients, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects clients over their budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			writeDetail(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment before trying again.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Service is the workflow behind the API.
type Service interface {
	Ping(ctx context.Context) error
	CreateLead(ctx context.Context, in crm.LeadInput) (*store.Lead, error)
	ListLeads(ctx context.Context) ([]store.Lead, error)
	RecordSend(ctx context.Context, in crm.SendInput) (*store.OutboundEmail, error)
	ListOutbound(ctx context.Context) ([]store.OutboundEmail, error)
	SyncReplies(ctx context.Context) (*crm.SyncResult, error)
	Reclassify(ctx context.Context) (*crm.ReclassifyResult, error)
	ListReplies(ctx context.Context) ([]store.ReplyDetail, error)
	GenerateNextAction(ctx context.Context, replyID string, force bool) (*crm.NextActionResult, error)
	GenerateDraft(ctx context.Context, replyID string, tone store.Tone, force bool) (*crm.DraftResult, error)
	SendDraftReply(ctx context.Context, replyID string, in crm.SendDraftInput) (*store.OutboundEmail, error)
	UploadAttachment(ctx context.Context, in crm.UploadInput) (*store.Attachment, error)
}

type Server struct {
	config      config.ServerConfig
	service     Service
	metrics     *metrics.Metrics
	log         *slog.Logger
	version     string
	maxUpload   int64
	rateLimiter *RateLimiter
	httpServer  *http.Server
}

type Options struct {
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Version        string
	MaxUploadBytes int64
}

func NewServer(cfg config.ServerConfig, service Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		config:      cfg,
		service:     service,
		metrics:     opts.Metrics,
		log:         opts.Logger.With("component", "web"),
		version:     opts.Version,
		maxUpload:   opts.MaxUploadBytes,
		rateLimiter: NewRateLimiter(cfg.SendRatePerMin),
	}
}

// Start serves the API until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// generation and sync wait on external services
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting API server", "addr", s.config.Addr, "version", s.version)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(s.metrics.Middleware)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(s.config.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/leads", func(r chi.Router) {
		r.Get("/", s.handleListLeads)
		r.Post("/", s.handleCreateLead)
	})

	r.Route("/emails", func(r chi.Router) {
		r.With(s.rateLimiter.Middleware).Post("/send", s.handleSendEmail)
		r.Get("/outbound", s.handleListOutbound)
	})

	r.With(s.rateLimiter.Middleware).Post("/sync/replies", s.handleSyncReplies)

	r.Route("/replies", func(r chi.Router) {
		r.Get("/inbound-replies", s.handleListReplies)
		r.Post("/reclassify", s.handleReclassify)
		r.Post("/upload-attachment", s.handleUploadAttachment)
		r.Post("/{replyID}/generate-next-action", s.handleGenerateNextAction)
		r.Post("/{replyID}/generate-draft", s.handleGenerateDraft)
		r.With(s.rateLimiter.Middleware).Post("/{replyID}/send-draft", s.handleSendDraft)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func allowedOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	return configured
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// lead data is personal; never cache API responses
		if !strings.HasPrefix(r.URL.Path, "/metrics") {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}
