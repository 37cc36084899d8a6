package main

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/audit"
	"github.com/quantumauth-io/quantumauth-go/config"
	"github.com/quantumauth-io/quantumauth-go/middleware"
)

type server struct {
	qa       *middleware.Middleware
	gatherer prometheus.Gatherer
	history  *audit.SQLRecorder
	origins  []string
	logger   *zap.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.cors)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.qa.Handler)
		r.Post("/qa/demo", s.demo)
		r.Post("/secure/data", s.secureData)
		if s.history != nil {
			r.Get("/audit/recent", s.recent)
		}
	})
	return r
}

func (s *server) demo(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.ShouldGetIdentity(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"userId":   id.UserID,
		"deviceId": id.DeviceID,
		"received": json.RawMessage(body),
	})
}

func (s *server) secureData(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body is not a JSON object"})
		return
	}
	s.logger.Info("secure data accessed", zap.String("userId", middleware.UserIDFromContext(r.Context())))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "secure data",
		"userId":  middleware.UserIDFromContext(r.Context()),
		"echo":    in,
	})
}

func (s *server) recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load audit records", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// cors answers preflights for the configured browser origins.
func (s *server) cors(next http.Handler) http.Handler {
	allowHeaders := strings.Join(config.AllowedHeaders, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.origins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
