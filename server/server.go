// Package server exposes the coordinator over HTTP. The transport is a
// thin shell: it decodes requests, calls the coordinator, and maps error
// kinds onto status codes. No lifecycle logic lives here.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/clawgig/clawgig/coordinator"
	applog "github.com/clawgig/clawgig/pkg/log"
	"github.com/hamba/pkg/log"
	"github.com/hamba/pkg/stats"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

// Config holds the configuration for a Server.
type Config struct {
	// Addr is the listen address.
	Addr string

	// Coordinator handles all job operations.
	Coordinator *coordinator.Coordinator

	// AllowedOrigins are the CORS origins. Empty allows all.
	AllowedOrigins []string

	// Logger is the logger to log to.
	Logger log.Logger

	// Statter is the stats client to send stats to.
	Statter stats.Statter
}

// Server serves the coordinator API.
type Server struct {
	addr    string
	coord   *coordinator.Coordinator
	handler http.Handler

	log     log.Logger
	statter stats.Statter
}

// New returns a server.
func New(cfg *Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("server: coordinator cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Null
	}
	statter := cfg.Statter
	if statter == nil {
		statter = stats.Null
	}

	s := &Server{
		addr:    cfg.Addr,
		coord:   cfg.Coordinator,
		log:     logger,
		statter: statter,
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Arbiter-Api-Key"},
	})
	s.handler = c.Handler(s.routes())

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /agents/signup", s.handleSignup)
	mux.HandleFunc("GET /reputation/{address}", s.handleReputation)

	mux.HandleFunc("POST /jobs/post", s.handlePost)
	mux.HandleFunc("GET /jobs/browse", s.handleBrowse)
	mux.HandleFunc("GET /jobs/participated", s.handleParticipated)
	mux.HandleFunc("GET /jobs/stats", s.handleStats)
	mux.HandleFunc("GET /jobs/{id}", s.handleJob)

	mux.HandleFunc("POST /jobs/{id}/escrow", s.handleEscrow)
	mux.HandleFunc("POST /jobs/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /jobs/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /jobs/{id}/verify", s.handleVerify)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /jobs/{id}/expire", s.handleExpire)
	mux.HandleFunc("POST /jobs/{id}/dispute", s.handleDispute)
	mux.HandleFunc("POST /jobs/{id}/resolve-dispute", s.handleResolveDispute)
	mux.HandleFunc("POST /jobs/{id}/finalize-reject", s.handleFinalizeReject)
	mux.HandleFunc("POST /jobs/{id}/claim-timeout-release", s.handleClaimTimeoutRelease)

	return s.instrument(mux)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.statter.Timing("server.request", time.Since(start), 1.0, "method", r.Method)
	})
}

// Handler returns the root handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:     s.addr,
		Handler:  s.handler,
		ErrorLog: applog.NewBridge(s.log, applog.Debug, "server: "),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "server: serve failed")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
