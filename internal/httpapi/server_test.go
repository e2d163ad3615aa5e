package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/retrace-app/retrace/internal/capture"
	"github.com/retrace-app/retrace/internal/store"
	"github.com/retrace-app/retrace/internal/vector"
)

type fakeSource struct {
	healthErr error
}

func (s *fakeSource) Poll(context.Context, int64, int) ([]capture.Event, error) { return nil, nil }
func (s *fakeSource) Health(context.Context) error                             { return s.healthErr }

// stubProvider embeds by summing bytes into a fixed number of buckets,
// so identical text always lands on the identical vector.
type stubProvider struct {
	err error
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-embed-1" }

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 8)
		for j, c := range []byte(t) {
			v[j%8] += float32(c)
		}
		out[i] = v
	}
	return out, nil
}

type testAPI struct {
	srv     *httptest.Server
	records *store.SQLiteStore
	coll    *vector.Collection
}

func newTestAPI(t *testing.T, cfg Config, provider vector.EmbeddingProvider, src *fakeSource) *testAPI {
	t.Helper()
	dir := t.TempDir()

	records, err := store.Open(filepath.Join(dir, "retrace.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	coll, err := vector.OpenCollection(filepath.Join(dir, "vectors.db"))
	if err != nil {
		t.Fatalf("open collection: %v", err)
	}
	t.Cleanup(func() { coll.Close() })

	indexer := vector.NewIndexer(provider, coll, vector.IndexerConfig{})
	s := NewServer(cfg, records, coll, indexer, nil, src)

	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, records: records, coll: coll}
}

func (a *testAPI) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(a.srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func putRecord(t *testing.T, records *store.SQLiteStore, id string, ts int64, app, text string) {
	t.Helper()
	err := records.Put(&store.Record{
		ID: id, Timestamp: ts, App: app,
		MediaPath: "/captures/" + id + ".png", OCRText: text,
	})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func TestSearchKeyword(t *testing.T) {
	a := newTestAPI(t, Config{}, nil, &fakeSource{})
	putRecord(t, a.records, "e1", 1000, "Safari", "OMEGA Seamaster Aqua Terra")
	putRecord(t, a.records, "e2", 2000, "Notes", "grocery list")

	var resp searchResponse
	if code := a.get(t, "/api/search?q=Seamaster", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "e1" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Results[0].Source != "keyword" {
		t.Errorf("source = %q", resp.Results[0].Source)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	a := newTestAPI(t, Config{}, nil, &fakeSource{})
	if code := a.get(t, "/api/search?q=", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestSearchSemanticMerge(t *testing.T) {
	p := &stubProvider{}
	a := newTestAPI(t, Config{}, p, &fakeSource{})

	putRecord(t, a.records, "e1", 1000, "Safari", "OMEGA Seamaster Aqua Terra")
	putRecord(t, a.records, "e2", 2000, "Notes", "unrelated grocery list")

	// e1 is indexed on both sides, e2 keyword-only, e3 exists only in the
	// vector index (its record already swept by retention).
	embed := func(text string) []float32 {
		vecs, err := p.Embed(context.Background(), []string{text})
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		return vecs[0]
	}
	a.coll.Upsert(vector.Entry{ID: "e1", Embedding: embed("OMEGA Seamaster Aqua Terra"), Model: "stub-embed-1", Timestamp: 1000})
	a.coll.Upsert(vector.Entry{ID: "e3", Embedding: embed("Seamaster dive watch review"), Model: "stub-embed-1", Timestamp: 3000})

	var resp searchResponse
	if code := a.get(t, "/api/search?q=Seamaster&semantic=1", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}

	sources := map[string]string{}
	for _, h := range resp.Results {
		sources[h.ID] = h.Source
	}
	if sources["e1"] != "hybrid" {
		t.Errorf("e1 source = %q, want hybrid", sources["e1"])
	}
	if _, ok := sources["e3"]; ok {
		t.Error("e3 has no keyword record and must be dropped")
	}
	if len(resp.Results) == 0 || resp.Results[0].ID != "e1" {
		t.Errorf("top hit = %+v", resp.Results)
	}
}

func TestSearchSemanticOutageFallsBack(t *testing.T) {
	a := newTestAPI(t, Config{}, &stubProvider{err: errors.New("provider down")}, &fakeSource{})
	putRecord(t, a.records, "e1", 1000, "Safari", "OMEGA Seamaster")

	var resp searchResponse
	if code := a.get(t, "/api/search?q=Seamaster&semantic=1", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, semantic outage must not fail the request", code)
	}
	if len(resp.Results) != 1 || resp.Results[0].Source != "keyword" {
		t.Errorf("results = %+v, want keyword-only fallback", resp.Results)
	}
}

func TestRecent(t *testing.T) {
	a := newTestAPI(t, Config{}, nil, &fakeSource{})
	putRecord(t, a.records, "e1", 1000, "Safari", "a")
	putRecord(t, a.records, "e2", 2000, "Notes", "b")

	var resp struct {
		Results []store.Record `json:"results"`
	}
	if code := a.get(t, "/api/recent?app=Notes", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "e2" {
		t.Errorf("results = %+v", resp.Results)
	}

	// Empty result is an empty array, not null.
	if code := a.get(t, "/api/recent?app=Missing", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("results = %#v, want empty array", resp.Results)
	}
}

func TestStats(t *testing.T) {
	a := newTestAPI(t, Config{}, nil, &fakeSource{})
	putRecord(t, a.records, "e1", 1000, "Safari", "a")

	var resp map[string]json.RawMessage
	if code := a.get(t, "/api/stats", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, key := range []string{"records", "vector", "vector_count"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, Config{}, nil, &fakeSource{})

	var resp healthResponse
	if code := a.get(t, "/api/health", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if !resp.Components["keyword_store"] || !resp.Components["capture_source"] {
		t.Errorf("components = %v", resp.Components)
	}
	// No provider configured: semantic indexing off, still healthy.
	if resp.Components["vector_indexer"] {
		t.Error("vector_indexer should be false without a provider")
	}
}

func TestHealthDegradedWhenSourceDown(t *testing.T) {
	a := newTestAPI(t, Config{}, nil, &fakeSource{healthErr: errors.New("unreachable")})

	var resp healthResponse
	a.get(t, "/api/health", &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestBearerAuth(t *testing.T) {
	a := newTestAPI(t, Config{Token: "sekrit"}, nil, &fakeSource{})

	if code := a.get(t, "/api/stats", nil); code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", code)
	}

	req, _ := http.NewRequest(http.MethodGet, a.srv.URL+"/api/stats", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", resp.StatusCode)
	}

	// Health stays open for probes.
	if code := a.get(t, "/api/health", nil); code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", code)
	}
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, Config{RateLimitRPM: 1}, nil, &fakeSource{})

	// Burst of 10, then the bucket is dry at 1 rpm.
	limited := false
	for i := 0; i < 12; i++ {
		if a.get(t, "/api/stats", nil) == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("rate limit never triggered")
	}
}
