// Package web serves the browser control panel: the device page, the
// script-backed control endpoints, the run history and the real-time
// WebSocket channel.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/deixis/robopanel/internal/control"
	"github.com/deixis/robopanel/internal/report"
)

//go:embed templates static
var assets embed.FS

var indexTmpl = template.Must(template.ParseFS(assets, "templates/index.html"))

// Runs is the run history browsed by the panel.
// Implemented by report.LRUStore.
type Runs interface {
	Load(runID string) (*report.Record, error)
	Recent(n int) []*report.Record
}

// Server is the panel's HTTP surface.
type Server struct {
	ctl      *control.Controller
	runs     Runs         // optional
	ws       http.Handler // optional
	logger   *slog.Logger
	sessions *sessions
	mux      *http.ServeMux
}

// NewServer wires the routes. runs and ws may be nil, in which case their
// routes answer 404.
func NewServer(ctl *control.Controller, runs Runs, ws http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		ctl:      ctl,
		runs:     runs,
		ws:       ws,
		logger:   logger,
		sessions: newSessions(),
		mux:      http.NewServeMux(),
	}

	static, _ := fs.Sub(assets, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /devices", s.handleGetDevices)
	s.mux.HandleFunc("POST /devices", s.handleSetDevices)
	s.mux.HandleFunc("POST /start_cam_feed", s.handleFeed(control.StartCam))
	s.mux.HandleFunc("POST /stop_cam_feed", s.handleFeed(control.StopCam))
	s.mux.HandleFunc("POST /start_mic_feed", s.handleFeed(control.StartMic))
	s.mux.HandleFunc("POST /stop_mic_feed", s.handleFeed(control.StopMic))
	s.mux.HandleFunc("POST /command", s.handleCommand)
	s.mux.HandleFunc("POST /signup", s.handleSignup)
	s.mux.HandleFunc("GET /runs", s.handleRuns)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRun)
	if ws != nil {
		s.mux.Handle("GET /ws", ws)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	securityHeaders(s.mux).ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. Request contexts derive from ctx, so in-flight scripts are
// cancelled on shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("panel listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// securityHeaders sets the response headers every page carries.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
