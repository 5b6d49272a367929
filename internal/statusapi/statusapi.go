// Package statusapi exposes the live StatusReport over HTTP for local
// monitoring tools.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	svcwrap "github.com/axondata/go-svcwrap"
)

// Source supplies the current report, typically a *svcwrap.Supervisor
type Source interface {
	Status() svcwrap.StatusReport
}

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// NewRouter builds the status routes
func NewRouter(src Source) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", statusHandler(src)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(src)).Methods(http.MethodGet)
	return r
}

func statusHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.Status())
	}
}

// healthHandler answers 200 while the run has not reached Stopped
func healthHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r := src.Status()
		resp := HealthResponse{
			Status:    "healthy",
			State:     r.State.String(),
			Timestamp: time.Now().Format(time.RFC3339),
		}
		code := http.StatusOK
		if r.State == svcwrap.StateStopped {
			resp.Status = "stopped"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server serves the status routes until its context ends
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New creates a server bound to addr
func New(addr string, src Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Start listens and serves in the background. The server shuts down when
// ctx ends. It returns the bound address.
func (s *Server) Start(ctx context.Context) (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, &svcwrap.CommunicationError{Sink: "status api", Err: err}
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("status api stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status api listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}
