package httpserver

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"pbserver/internal/metrics"
	"pbserver/internal/paste"
	"pbserver/internal/throttle"
	"pbserver/web"
)

// Config captures server configuration.
type Config struct {
	Pastes     *paste.Service
	Limits     throttle.Limits
	TrustProxy bool
	BaseURL    string
	Logger     *slog.Logger
	// Metrics receives one observation per paste operation. Nil disables it.
	Metrics metrics.Recorder
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// Server wraps HTTP handling logic.
type Server struct {
	pastes      *paste.Service
	limits      throttle.Limits
	maxBytes    int64
	router      chi.Router
	templates   *template.Template
	bashProfile *texttemplate.Template
	trustProxy  bool
	baseURL     *url.URL
	logger      *slog.Logger
	metrics     metrics.Recorder
	metricsHTTP http.Handler
	// storeErrLog samples store failure logs so an outage does not flood them.
	storeErrLog *rate.Sometimes
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Pastes == nil {
		return nil, errors.New("paste service required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}

	tmpl, err := template.ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	bash, err := texttemplate.ParseFS(web.Templates, "templates/bash_profile.txt")
	if err != nil {
		return nil, fmt.Errorf("parse bash profile: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		pastes:      cfg.Pastes,
		limits:      cfg.Limits,
		maxBytes:    cfg.Pastes.Config().MaxBodySize,
		router:      chi.NewRouter(),
		templates:   tmpl,
		bashProfile: bash,
		trustProxy:  cfg.TrustProxy,
		baseURL:     parsedBase,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		metricsHTTP: cfg.MetricsHandler,
		storeErrLog: &rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Compress(5, "text/html", "text/plain"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/", s.handleIndex)
	r.Post("/", s.handleWrite)
	r.Get("/bash_profile", s.handleBashProfile)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metricsHTTP != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHTTP)
	}

	r.Get("/{id}", s.handleRead)
	r.Get("/{id}/qr", s.handleQR)
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

// siteURL returns the externally visible root URL without a trailing slash.
func (s *Server) siteURL(r *http.Request) string {
	if s.baseURL != nil {
		return s.baseURL.String()
	}
	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host
}

func (s *Server) canonicalURL(r *http.Request, id string) string {
	return s.siteURL(r) + "/" + id
}
