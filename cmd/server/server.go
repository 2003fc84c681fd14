package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type documentIndexer interface {
	IndexPDF(ctx context.Context, data []byte, filename string) (string, error)
}

type questionAnswerer interface {
	Answer(ctx context.Context, docID, question string) (string, error)
}

// Server holds the long-lived handles shared by all requests. Nothing on it is
// mutated after construction.
type Server struct {
	indexer        documentIndexer
	answerer       questionAnswerer
	tableName      string
	maxUploadBytes int64
	allowedOrigins map[string]bool
	logger         *zap.Logger
}

func NewServer(indexer documentIndexer, answerer questionAnswerer, tableName string, maxUploadBytes int64, origins []string, logger *zap.Logger) *Server {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &Server{
		indexer:        indexer,
		answerer:       answerer,
		tableName:      tableName,
		maxUploadBytes: maxUploadBytes,
		allowedOrigins: allowed,
		logger:         logger,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// GET also matches HEAD; net/http drops the body for HEAD.
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /ask", s.handleAsk)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, map[string]string{
		"status":      "API is running",
		"astra_table": s.tableName,
	})
}

// ========== Middleware ==========

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowedOrigins[origin] {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				h.Set("Access-Control-Allow-Headers", "Content-Type")
			}
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

// ========== Helpers ==========

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
