package web

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/dirsync/internal/logging"
	"github.com/hpungsan/dirsync/internal/metrics"
	"github.com/hpungsan/dirsync/internal/ops"
	"github.com/hpungsan/dirsync/internal/session"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	Session *session.Session // required, not yet running
	DB      *sql.DB          // nil disables saving settings
	Folder  *ops.Folder      // storage key for saved settings
	Logger  *zap.Logger
	Bind    string
	Port    int
}

// NewServer creates the HTTP server exposing one folder view.
func NewServer(opts ServerOptions) *http.Server {
	log := logging.OrGlobal(opts.Logger).Named("web")
	h := &Handlers{
		session: opts.Session,
		db:      opts.DB,
		folder:  opts.Folder,
		log:     log,
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/items", http.StatusFound)
	})
	mux.HandleFunc("GET /items", h.HandleItems)
	mux.HandleFunc("GET /stats", h.HandleStats)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.HandleFunc("POST /select", h.HandleSelect)
	mux.HandleFunc("POST /drop", h.HandleDrop)
	mux.HandleFunc("PUT /filter", h.HandleFilter)
	mux.HandleFunc("PUT /sort", h.HandleSort)
	mux.HandleFunc("PUT /mode", h.HandleMode)
	mux.HandleFunc("PUT /columns", h.HandleColumns)
	mux.Handle("GET /metrics", metrics.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Bind, opts.Port),
		Handler:           logging.Middleware(log, securityHeaders(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves srv and drives s until SIGINT/SIGTERM, then shuts the server
// down gracefully and closes the session.
func Run(srv *http.Server, s *session.Session, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, srv, s, logging.OrGlobal(logger))
}

func serve(ctx context.Context, srv *http.Server, s *session.Session, log *zap.Logger) error {
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Streams end when the session closes; Shutdown does not wait for them.
		srv.RegisterOnShutdown(func() { _ = s.Close() })
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("serving folder view",
		zap.String("addr", "http://"+srv.Addr),
		zap.String("dir", s.Dir()))
	if strings.Contains(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	return g.Wait()
}
