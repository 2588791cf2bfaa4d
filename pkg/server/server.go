package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/gatewatch/gatewatch/pkg/log"
	"github.com/gatewatch/gatewatch/pkg/tedapi"
)

// Server exposes the gateway client as a read-only JSON API for
// dashboards and scrapers. All routes serve cached data where the
// client's TTLs allow; the gateway itself is never hit more than the
// client's cache and cooldown policy permits.
type Server struct {
	client *tedapi.Client

	listenAddr string
	serverName string
	httpServer *http.Server
}

// Configured initializes the Server and registers its command-line flags.
func Configured(client *tedapi.Client) *Server {
	srv := &Server{
		client:     client,
		serverName: "gatewatch",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})
	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vitals", s.handleVitals)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/firmware", s.handleFirmware)
	mux.HandleFunc("GET /api/din", s.handleDin)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.serverNameMiddleware(gziphandler.GzipHandler(mux))
}

// Run starts the HTTP server and blocks until the context is canceled or
// an error occurs.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// serveResult writes one poll result as JSON. A nil result means the
// gateway had no data this cycle (cooldown, unreachable, unparseable) and
// maps to 503 so scrapers back off; real errors map to 502.
func (s *Server) serveResult(w http.ResponseWriter, r *http.Request, v any, err error) {
	ctx := r.Context()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSONError(w, "gateway request failed", http.StatusBadGateway)
		return
	}
	if v == nil {
		writeJSONError(w, "no data available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleVitals(w http.ResponseWriter, r *http.Request) {
	record, err := s.client.Vitals(r.Context())
	if record == nil {
		s.serveResult(w, r, nil, err)
		return
	}
	s.serveResult(w, r, record, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := anyResult(s.client.Status(r.Context(), false))
	s.serveResult(w, r, v, err)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	v, err := anyResult(s.client.Config(r.Context(), false))
	s.serveResult(w, r, v, err)
}

func (s *Server) handleFirmware(w http.ResponseWriter, r *http.Request) {
	v, err := anyResult(s.client.Firmware(r.Context(), false))
	s.serveResult(w, r, v, err)
}

func (s *Server) handleDin(w http.ResponseWriter, r *http.Request) {
	din, err := s.client.DIN(r.Context())
	if err != nil || !din.Valid() {
		s.serveResult(w, r, nil, err)
		return
	}
	s.serveResult(w, r, struct {
		Din string `json:"din"`
	}{Din: din.String()}, nil)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) serverNameMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// anyResult keeps a nil typed pointer from reaching serveResult as a
// non-nil any.
func anyResult[T any](v *T, err error) (any, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}
