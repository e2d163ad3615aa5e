package vector

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	_ "modernc.org/sqlite"
)

// Entry is one indexed vector plus the minimal metadata needed to render
// a search hit without consulting the keyword store.
type Entry struct {
	ID            string    `json:"id"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Model         string    `json:"model"`
	Timestamp     int64     `json:"timestamp"`
	App           string    `json:"app"`
	URLHost       string    `json:"url_host,omitempty"`
	WindowTitle   string    `json:"window_title,omitempty"`
	MediaPath     string    `json:"media_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
}

// Hit is a scored semantic search result.
type Hit struct {
	Entry
	Score float64 `json:"score"`
}

// Collection is the vector index, a SQLite file of its own so the
// semantic side can fail or lag independently of the keyword store.
// Upserts are keyed by record id and safe to repeat.
type Collection struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenCollection opens (or creates) the vector collection at dbPath.
func OpenCollection(dbPath string) (*Collection, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}

	c := &Collection{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate vector collection: %w", err)
	}

	slog.Info("vector collection opened", "path", dbPath)
	return c, nil
}

func (c *Collection) migrate() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		dims INTEGER NOT NULL,
		model TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		app TEXT NOT NULL DEFAULT '',
		url_host TEXT NOT NULL DEFAULT '',
		window_title TEXT NOT NULL DEFAULT '',
		media_path TEXT NOT NULL DEFAULT '',
		thumbnail_path TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(`CREATE INDEX IF NOT EXISTS idx_vectors_ts ON vectors(timestamp DESC)`)
	return err
}

// Upsert inserts or replaces an entry by id.
func (c *Collection) Upsert(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	emb, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	_, err = c.db.Exec(`INSERT OR REPLACE INTO vectors
		(id, embedding, dims, model, timestamp, app, url_host, window_title, media_path, thumbnail_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
		e.ID, string(emb), len(e.Embedding), e.Model, e.Timestamp,
		e.App, e.URLHost, e.WindowTitle, e.MediaPath, e.ThumbnailPath)
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", e.ID, err)
	}
	return nil
}

// Has reports whether an id is indexed.
func (c *Collection) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var one int
	return c.db.QueryRow("SELECT 1 FROM vectors WHERE id = ?", id).Scan(&one) == nil
}

// Delete removes an entry; deleting an absent id is a no-op.
func (c *Collection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec("DELETE FROM vectors WHERE id = ?", id)
	return err
}

// DeleteOlderThan removes entries whose timestamp predates cutoffMillis
// and returns the number removed. Mirrors the keyword store's retention
// sweep so neither index outlives the other's records.
func (c *Collection) DeleteOlderThan(cutoffMillis int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM vectors WHERE timestamp < ?", cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("vector retention sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of indexed vectors.
func (c *Collection) Count() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int64
	c.db.QueryRow("SELECT COUNT(*) FROM vectors").Scan(&n)
	return n
}

// Search scores every stored vector against queryVec by cosine
// similarity and returns the top k hits at or above minScore. The scan
// is in-memory; collection sizes here are bounded by retention, not by
// web scale.
func (c *Collection) Search(queryVec []float32, k int, minScore float64) ([]Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if k <= 0 {
		k = 10
	}

	rows, err := c.db.Query(`SELECT id, embedding, model, timestamp, app, url_host, window_title, media_path, thumbnail_path FROM vectors`)
	if err != nil {
		return nil, fmt.Errorf("scan vectors: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var e Entry
		var embJSON string
		if err := rows.Scan(&e.ID, &embJSON, &e.Model, &e.Timestamp, &e.App, &e.URLHost,
			&e.WindowTitle, &e.MediaPath, &e.ThumbnailPath); err != nil {
			continue
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil || len(emb) == 0 {
			continue
		}

		score := CosineSimilarity(queryVec, emb)
		if score >= minScore && score > 0 {
			hits = append(hits, Hit{Entry: e, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, rows.Err()
}

// Close closes the collection database.
func (c *Collection) Close() error {
	return c.db.Close()
}
