// Package httpapi exposes the downstream search boundary: keyword and
// semantic search, recency scans, stats and health over plain HTTP.
// Semantic search is additive: when the vector side is down or lagging,
// responses simply contain keyword results, never an error.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/retrace-app/retrace/internal/pipeline"
	"github.com/retrace-app/retrace/internal/store"
	"github.com/retrace-app/retrace/internal/vector"
)

// Config wires the API server.
type Config struct {
	Addr         string
	Token        string // bearer auth when non-empty
	RateLimitRPM int
}

// Server serves the search/stats/health API.
type Server struct {
	cfg     Config
	records *store.SQLiteStore
	coll    *vector.Collection
	indexer *vector.Indexer
	pipe    *pipeline.Pipeline
	source  pipeline.Source
	limiter *RateLimiter
	http    *http.Server
}

// NewServer creates the API server around the live components.
func NewServer(cfg Config, records *store.SQLiteStore, coll *vector.Collection,
	indexer *vector.Indexer, pipe *pipeline.Pipeline, source pipeline.Source) *Server {
	s := &Server{
		cfg:     cfg,
		records: records,
		coll:    coll,
		indexer: indexer,
		pipe:    pipe,
		source:  source,
		limiter: NewRateLimiter(cfg.RateLimitRPM, 10),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search", s.guard(s.handleSearch))
	mux.HandleFunc("GET /api/recent", s.guard(s.handleRecent))
	mux.HandleFunc("GET /api/stats", s.guard(s.handleStats))
	mux.HandleFunc("GET /api/health", s.handleHealth)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", "addr", s.cfg.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// guard applies auth and rate limiting to an endpoint.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		if s.cfg.Token != "" && !tokenMatch(bearerToken(r), s.cfg.Token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- /api/search ---

type searchResponse struct {
	Query   string      `json:"query"`
	Results []searchHit `json:"results"`
}

type searchHit struct {
	store.Record
	Score  float64 `json:"score"`
	Source string  `json:"source"` // "keyword", "semantic" or "hybrid"
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := intParam(r, "limit", 20)
	offset := intParam(r, "offset", 0)
	semantic := r.URL.Query().Get("semantic") == "1"

	keyword, err := s.records.Query(q, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("keyword search failed", "error", err)
		return
	}

	hits := make([]searchHit, 0, len(keyword))
	for _, sr := range keyword {
		hits = append(hits, searchHit{Record: sr.Record, Score: sr.Score, Source: "keyword"})
	}

	if semantic && s.indexer != nil && s.indexer.Enabled() {
		hits = s.mergeSemantic(r.Context(), q, hits, limit)
	}

	writeJSON(w, http.StatusOK, searchResponse{Query: q, Results: hits})
}

// mergeSemantic folds vector hits into the keyword results with a
// weighted union. Any semantic-side failure returns the keyword hits
// untouched; the lag or outage is expected, never surfaced as an error.
func (s *Server) mergeSemantic(ctx context.Context, q string, keyword []searchHit, limit int) []searchHit {
	const (
		vectorWeight = 0.7
		textWeight   = 0.3
	)

	queryVec, err := s.indexer.EmbedQuery(ctx, q)
	if err != nil || queryVec == nil {
		slog.Debug("semantic search unavailable", "error", err)
		return keyword
	}
	vecHits, err := s.coll.Search(queryVec, limit, 0.2)
	if err != nil {
		slog.Debug("vector search failed", "error", err)
		return keyword
	}

	// Normalize keyword scores against the best hit before weighting.
	merged := make(map[string]*searchHit, len(keyword)+len(vecHits))
	var maxKeyword float64
	for _, h := range keyword {
		if h.Score > maxKeyword {
			maxKeyword = h.Score
		}
	}
	for _, h := range keyword {
		hit := h
		if maxKeyword > 0 {
			hit.Score = h.Score / maxKeyword * textWeight
		}
		merged[h.ID] = &hit
	}

	for _, vh := range vecHits {
		if existing, ok := merged[vh.ID]; ok {
			existing.Score += vh.Score * vectorWeight
			existing.Source = "hybrid"
			continue
		}
		rec, err := s.records.Get(vh.ID)
		if err != nil || rec == nil {
			// Vector entry for a record retention already removed.
			continue
		}
		merged[vh.ID] = &searchHit{Record: *rec, Score: vh.Score * vectorWeight, Source: "semantic"}
	}

	out := make([]searchHit, 0, len(merged))
	for _, h := range merged {
		out = append(out, *h)
	}
	sortHits(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// --- /api/recent ---

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	filter := store.RecentFilter{
		SinceMillis: int64(intParam(r, "since", 0)),
		App:         r.URL.Query().Get("app"),
		URLHost:     r.URL.Query().Get("host"),
	}
	limit := intParam(r, "limit", 50)

	recs, err := s.records.Recent(filter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recent scan failed")
		slog.Error("recent scan failed", "error", err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": recs})
}

// --- /api/stats ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.records.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		slog.Error("stats failed", "error", err)
		return
	}

	resp := map[string]any{
		"records": st,
	}
	if s.pipe != nil {
		resp["pipeline"] = s.pipe.Counters()
	}
	if s.indexer != nil {
		resp["vector"] = s.indexer.Stats()
	}
	if s.coll != nil {
		resp["vector_count"] = s.coll.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- /api/health ---

type healthResponse struct {
	Status     string          `json:"status"` // "ok" or "degraded"
	Components map[string]bool `json:"components"`
	Records    int64           `json:"records"`
	Apps       int             `json:"apps"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]bool)

	st, err := s.records.Stats()
	components["keyword_store"] = err == nil

	if s.source != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		components["capture_source"] = s.source.Health(ctx) == nil
		cancel()
	}

	components["vector_indexer"] = s.indexer != nil && s.indexer.Enabled()

	resp := healthResponse{Status: "ok", Components: components}
	if st != nil {
		resp.Records = st.Count
		resp.Apps = len(st.PerApp)
	}
	// The vector side being down degrades search, it does not break it.
	if !components["keyword_store"] || !components["capture_source"] {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func sortHits(hits []searchHit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func tokenMatch(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
