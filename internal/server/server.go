// Package server exposes a local store over the JSON protocol that
// remote.Client speaks, so another install can use it as its remote backend.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"piggysaving/internal/core"
	"piggysaving/internal/log"
	"piggysaving/internal/middleware/ratelimit"
	"piggysaving/internal/middleware/security"
	"piggysaving/internal/remote"
)

// Repository is the part of storage.SQLiteRepository the server reads and writes.
type Repository interface {
	FetchSavings(ctx context.Context) ([]core.SavingRecord, error)
	FetchCosts(ctx context.Context) ([]core.CostRecord, error)
	MarkConfirmed(ctx context.Context, date core.Date) error
	Sum(ctx context.Context) (decimal.Decimal, error)
	Last(ctx context.Context) (core.SavingRecord, error)
}

type Server struct {
	http.Server
	repo        Repository
	logger      *log.Logger
	rateLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run server.
func NewServer(addr string, repo Repository, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentServer)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		repo:        repo,
		logger:      logger,
		rateLimiter: ratelimit.NewLimiter(ratelimit.DefaultConfig()),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(log.Middleware(logger))
	r.Use(log.RequestIDMiddleware(requestID))
	r.Use(log.AccessMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", handleHealth)
	r.Post(remote.PathAll, s.handleAll)
	r.Get(remote.PathSum, s.handleSum)
	r.Get(remote.PathLast, s.handleLast)
	r.With(s.rateLimiter.Middleware(clientIP)).Post(remote.PathSave, s.handleSave)

	s.Handler = r
	return s
}

// Shutdown stops the rate limiter and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// clientIP keys the rate limiter on the host alone. middleware.RealIP has
// already replaced RemoteAddr when a forwarding header was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
