package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the keyword store on a single SQLite database
// with WAL journaling. The FTS5 index is maintained by triggers rather
// than by callers: every insert, update or delete on the records table
// adjusts the lexical index inside the same transaction.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the store at the given path and runs schema
// setup. Schema setup happens once here, before any ingestion begins.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("keyword store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			session_id TEXT,
			app TEXT NOT NULL,
			window_title TEXT,
			url TEXT,
			url_host TEXT,
			media_path TEXT NOT NULL,
			thumbnail_path TEXT,
			ocr_text TEXT NOT NULL,
			transcript TEXT,
			entities TEXT NOT NULL DEFAULT '[]',
			topics TEXT NOT NULL DEFAULT '[]',
			video_status TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_ts ON records(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_records_app_ts ON records(app, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_records_host_ts ON records(url_host, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			ocr_text,
			window_title,
			app,
			url_host,
			id UNINDEXED,
			tokenize='porter unicode61'
		)`,
		// Triggers keep records_fts exactly 1:1 with records. Callers may
		// crash between two application-level writes; these cannot.
		`CREATE TRIGGER IF NOT EXISTS records_ai AFTER INSERT ON records BEGIN
			INSERT INTO records_fts (ocr_text, window_title, app, url_host, id)
			VALUES (new.ocr_text, coalesce(new.window_title,''), new.app, coalesce(new.url_host,''), new.id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS records_ad AFTER DELETE ON records BEGIN
			DELETE FROM records_fts WHERE id = old.id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS records_au AFTER UPDATE ON records BEGIN
			DELETE FROM records_fts WHERE id = old.id;
			INSERT INTO records_fts (ocr_text, window_title, app, url_host, id)
			VALUES (new.ocr_text, coalesce(new.window_title,''), new.app, coalesce(new.url_host,''), new.id);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}

	return nil
}

// Put upserts a record keyed by id. The FTS entry follows via triggers.
// Returns an error rather than panicking: on the ingestion hot path the
// caller skips the record and keeps the stream advancing.
func (s *SQLiteStore) Put(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities, err := json.Marshal(orEmpty(r.Entities))
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	topics, err := json.Marshal(orEmpty(r.Topics))
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO records
		(id, timestamp, session_id, app, window_title, url, url_host, media_path, thumbnail_path, ocr_text, transcript, entities, topics, video_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thumbnail_path = excluded.thumbnail_path,
			ocr_text       = excluded.ocr_text,
			transcript     = excluded.transcript,
			entities       = excluded.entities,
			topics         = excluded.topics,
			video_status   = excluded.video_status`,
		r.ID, r.Timestamp, nullable(r.SessionID), r.App, nullable(r.WindowTitle),
		nullable(r.URL), nullable(r.URLHost), r.MediaPath, nullable(r.ThumbnailPath),
		r.OCRText, nullable(r.Transcript), string(entities), string(topics), r.VideoStatus)
	if err != nil {
		return fmt.Errorf("put record %s: %w", r.ID, err)
	}
	return nil
}

// Exists reports whether a record id is already persisted. Used as the
// replay-safety pre-check before any per-event work is done.
func (s *SQLiteStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow("SELECT 1 FROM records WHERE id = ?", id).Scan(&one)
	return err == nil
}

// AttachThumbnail sets the thumbnail path on an existing record.
func (s *SQLiteStore) AttachThumbnail(id, thumbPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE records SET thumbnail_path = ? WHERE id = ?", thumbPath, id)
	if err != nil {
		return fmt.Errorf("attach thumbnail %s: %w", id, err)
	}
	return nil
}

// SetVideoStatus records the video-processing outcome for a record.
func (s *SQLiteStore) SetVideoStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE records SET video_status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set video status %s: %w", id, err)
	}
	return nil
}

// AppendOCRText merges additional OCR text into an existing record. Used
// when a near-duplicate frame carried text the kept frame did not; the
// update trigger re-indexes the merged text.
func (s *SQLiteStore) AppendOCRText(id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE records
		SET ocr_text = ocr_text || char(10) || ?
		WHERE id = ? AND instr(ocr_text, ?) = 0`, text, id, text)
	if err != nil {
		return fmt.Errorf("append ocr text %s: %w", id, err)
	}
	return nil
}

// Delete removes a record; triggers drop the FTS entry with it.
func (s *SQLiteStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Query runs a ranked lexical search over the indexed text fields.
// BM25 rank orders the results, ties broken by timestamp descending.
// The BM25 rank is normalized to a (0,1] score via 1/(1+abs(rank)).
func (s *SQLiteStore) Query(text string, limit, offset int) ([]ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	match := buildMatchQuery(text)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`SELECT `+recordColumns("r")+`,
		1.0 / (1.0 + abs(f.rank)) AS score
		FROM records_fts f
		JOIN records r ON r.id = f.id
		WHERE f.records_fts MATCH ?
		ORDER BY f.rank, r.timestamp DESC
		LIMIT ? OFFSET ?`, match, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []ScoredRecord
	for rows.Next() {
		sr, err := scanScored(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Recent returns records newest first with optional equality filters.
func (s *SQLiteStore) Recent(f RecentFilter, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	where := "WHERE 1=1"
	args := []any{}
	if f.SinceMillis > 0 {
		where += " AND timestamp >= ?"
		args = append(args, f.SinceMillis)
	}
	if f.App != "" {
		where += " AND app = ?"
		args = append(args, f.App)
	}
	if f.URLHost != "" {
		where += " AND url_host = ?"
		args = append(args, f.URLHost)
	}
	args = append(args, limit)

	rows, err := s.db.Query(`SELECT `+recordColumns("records")+`
		FROM records `+where+`
		ORDER BY timestamp DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Get returns a single record by id, or nil if absent.
func (s *SQLiteStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+recordColumns("records")+` FROM records WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Stats returns record count, timestamp bounds and per-app counts.
func (s *SQLiteStore) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{PerApp: make(map[string]int64)}

	err := s.db.QueryRow(`SELECT COUNT(*), coalesce(MIN(timestamp), 0), coalesce(MAX(timestamp), 0) FROM records`).
		Scan(&st.Count, &st.OldestTS, &st.NewestTS)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.db.Query("SELECT app, COUNT(*) FROM records GROUP BY app")
	if err != nil {
		return nil, fmt.Errorf("stats per app: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var app string
		var n int64
		if err := rows.Scan(&app, &n); err != nil {
			continue
		}
		st.PerApp[app] = n
	}
	return st, nil
}

// FTSCount returns the number of lexical index entries. The triggers
// guarantee it always equals the record count.
func (s *SQLiteStore) FTSCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	s.db.QueryRow("SELECT COUNT(*) FROM records_fts").Scan(&n)
	return n
}

// CountOlderThan returns how many records predate cutoffMillis.
func (s *SQLiteStore) CountOlderThan(cutoffMillis int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM records WHERE timestamp < ?", cutoffMillis).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count older than: %w", err)
	}
	return n, nil
}

// RetentionSweep deletes records older than cutoffMillis and returns the
// number removed. Source media artifacts are never touched: artifact
// retention is a separate policy from record retention.
func (s *SQLiteStore) RetentionSweep(cutoffMillis int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM records WHERE timestamp < ?", cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers ---

func recordColumns(alias string) string {
	cols := []string{"id", "timestamp", "session_id", "app", "window_title", "url", "url_host",
		"media_path", "thumbnail_path", "ocr_text", "transcript", "entities", "topics", "video_status"}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func recordDest(r *Record, sessionID, windowTitle, url, urlHost, thumbPath, transcript *sql.NullString, entities, topics *string) []any {
	return []any{&r.ID, &r.Timestamp, sessionID, &r.App, windowTitle, url, urlHost,
		&r.MediaPath, thumbPath, &r.OCRText, transcript, entities, topics, &r.VideoStatus}
}

func finishRecord(r *Record, sessionID, windowTitle, url, urlHost, thumbPath, transcript sql.NullString, entities, topics string) {
	r.SessionID = sessionID.String
	r.WindowTitle = windowTitle.String
	r.URL = url.String
	r.URLHost = urlHost.String
	r.ThumbnailPath = thumbPath.String
	r.Transcript = transcript.String
	json.Unmarshal([]byte(entities), &r.Entities)
	json.Unmarshal([]byte(topics), &r.Topics)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var sessionID, windowTitle, url, urlHost, thumbPath, transcript sql.NullString
		var entities, topics string

		if err := rows.Scan(recordDest(&r, &sessionID, &windowTitle, &url, &urlHost, &thumbPath, &transcript, &entities, &topics)...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		finishRecord(&r, sessionID, windowTitle, url, urlHost, thumbPath, transcript, entities, topics)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanScored(rows *sql.Rows) (ScoredRecord, error) {
	var sr ScoredRecord
	var sessionID, windowTitle, url, urlHost, thumbPath, transcript sql.NullString
	var entities, topics string

	dest := append(recordDest(&sr.Record, &sessionID, &windowTitle, &url, &urlHost, &thumbPath, &transcript, &entities, &topics), &sr.Score)
	if err := rows.Scan(dest...); err != nil {
		return sr, fmt.Errorf("scan scored record: %w", err)
	}
	finishRecord(&sr.Record, sessionID, windowTitle, url, urlHost, thumbPath, transcript, entities, topics)
	return sr, nil
}

// buildMatchQuery quotes each term so user input cannot break FTS5
// query syntax. Terms are ANDed, FTS5's default.
func buildMatchQuery(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
