// Package api exposes the diagnostic engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"

	"github.com/optimode/mailsentry"
)

// Version is reported by the status endpoint.
const Version = "1.0.0"

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-ID"

const (
	msgDomainRequired = "Domain is required in JSON payload"
	msgDomainEmpty    = "Domain cannot be empty"
	msgRunning        = "MailSentry API is running"
)

// maxBodySize bounds a check request body.
const maxBodySize = 64 << 10

// Engine runs one diagnostic. *mailsentry.Diagnoser implements it.
type Engine interface {
	Run(ctx context.Context, domain string) (*mailsentry.DomainReport, error)
}

// Server serves the check and status endpoints.
type Server struct {
	engine Engine
	logger *log.Logger
	router *httprouter.Router
}

// New creates a Server running checks on engine.
func New(engine Engine, logger *log.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
		router: httprouter.New(),
	}
	s.router.POST("/api/check", s.handleCheck)
	s.router.GET("/api/status", s.handleStatus)
	s.router.PanicHandler = s.handlePanic
	return s
}

// Handler returns the HTTP handler with request ids and access logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.router)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, waiting at most shutdownTimeout for running checks.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type checkRequest struct {
	Domain *string `json:"domain"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req checkRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil || req.Domain == nil {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msgDomainRequired})
		return
	}

	domain := strings.TrimSpace(*req.Domain)
	if domain == "" {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msgDomainEmpty})
		return
	}

	report, err := s.engine.Run(r.Context(), domain)
	switch {
	case errors.Is(err, mailsentry.ErrEmptyDomain):
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msgDomainEmpty})
	case err != nil:
		s.logger.Error("check failed", "domain", domain, "err", err, "request_id", requestID(r))
		s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Internal server error: " + err.Error()})
	default:
		s.writeJSON(w, r, http.StatusOK, report)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, r, http.StatusOK, statusResponse{Status: msgRunning, Version: Version})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, v interface{}) {
	s.logger.Error("handler panicked", "panic", v, "request_id", requestID(r))
	s.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("Internal server error: %v", v)})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "err", err, "request_id", requestID(r))
	}
}
