// Package server exposes the gateway and its administrative surface over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kindergate-ai/kindergate/pkg/gateway"
	"github.com/kindergate-ai/kindergate/pkg/provider"
	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
)

// Server is the KinderGate HTTP server.
type Server struct {
	gw     *gateway.Gateway
	listen string
	mux    *http.ServeMux
}

// New creates a Server wired to the given gateway.
func New(gw *gateway.Gateway, listen string) *Server {
	s := &Server{gw: gw, listen: listen, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /v1/quota", s.handleQuota)
	s.mux.HandleFunc("GET /admin/stats", s.handleStats)
	s.mux.HandleFunc("POST /admin/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("POST /admin/limits/reset", s.handleLimitsReset)
	s.mux.HandleFunc("PUT /admin/limits/{tier}", s.handleLimitsUpdate)
	s.mux.HandleFunc("GET /admin/usage/export", s.handleUsageExport)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Request-ID") == "" {
		r.Header.Set("X-Request-ID", uuid.NewString())
	}
	w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("kindergate listening on %s", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type analyzeRequest struct {
	UserID      string  `json:"user_id"`
	Tier        string  `json:"tier"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req analyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Tier == "" || strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id, tier and prompt are required")
		return
	}

	resp, err := s.gw.Handle(r.Context(), gateway.Request{
		UserID: req.UserID,
		Tier:   ratelimit.Tier(req.Tier),
		Prompt: req.Prompt,
		Options: provider.Options{
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	})
	if err != nil {
		s.writeHandleError(w, err)
		return
	}

	if resp.Cached {
		w.Header().Set("X-Kindergate-Cache", "hit")
	} else {
		w.Header().Set("X-Kindergate-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeHandleError translates gateway errors into HTTP responses. Rate
// limit denials surface the reset time so clients can tell users when to
// retry.
func (s *Server) writeHandleError(w http.ResponseWriter, err error) {
	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		retryAfter := int(time.Until(le.ResetTime).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"message":    le.Error(),
				"tier":       le.Tier,
				"reset_time": le.ResetTime.UTC().Format(time.RFC3339),
			},
		})
		return
	}

	if errors.Is(err, provider.ErrNotConfigured) {
		writeJSONError(w, http.StatusServiceUnavailable, "AI provider is not configured")
		return
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{
				"message":   pe.Message,
				"code":      pe.Code,
				"retryable": pe.Retryable(),
			},
		})
		return
	}

	log.Printf("server: analyze failed: %v", err)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	tier := r.URL.Query().Get("tier")
	if userID == "" || tier == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id and tier are required")
		return
	}

	q, err := s.gw.Limiter().Remaining(userID, ratelimit.Tier(tier))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	usage, err := s.gw.Tracker().Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":   s.gw.Cache().Stats(),
		"limiter": s.gw.Limiter().Stats(),
		"usage":   usage,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern != "" {
		n := s.gw.Cache().InvalidatePattern(pattern)
		writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
		return
	}
	s.gw.Cache().Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

type limitsResetRequest struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier,omitempty"`
}

func (s *Server) handleLimitsReset(w http.ResponseWriter, r *http.Request) {
	var req limitsResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if req.Tier != "" {
		s.gw.Limiter().Reset(req.UserID, ratelimit.Tier(req.Tier))
	} else {
		s.gw.Limiter().Reset(req.UserID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

type limitsUpdateRequest struct {
	MaxPerMinute *int `json:"max_per_minute,omitempty"`
	MaxPerHour   *int `json:"max_per_hour,omitempty"`
}

func (s *Server) handleLimitsUpdate(w http.ResponseWriter, r *http.Request) {
	tier := r.PathValue("tier")

	var req limitsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.gw.Limiter().SetLimit(ratelimit.Tier(tier), ratelimit.LimitUpdate{
		MaxPerMinute: req.MaxPerMinute,
		MaxPerHour:   req.MaxPerHour,
	})
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"limits": s.gw.Limiter().Limits()[ratelimit.Tier(tier)]})
}

func (s *Server) handleUsageExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	userID := r.URL.Query().Get("user_id")

	out, err := s.gw.Tracker().Export(r.Context(), userID, format)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = io.WriteString(w, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"message": message, "code": code},
	})
}
