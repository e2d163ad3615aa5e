// Package store is the durable keyword side of the memory system: one
// relational table of memory records plus an FTS5 lexical index, kept in
// lock-step by SQLite triggers so the two can never drift apart even if
// the process dies between writes.
package store

// Record is the canonical, durable unit representing one retained
// capture event. The id is assigned once and never changes; after
// creation only the thumbnail path and video-processing outcome are
// attached, and OCR text may grow when a near-duplicate frame's text is
// merged in.
type Record struct {
	ID            string   `json:"id"`
	Timestamp     int64    `json:"timestamp"` // epoch millis
	SessionID     string   `json:"session_id,omitempty"`
	App           string   `json:"app"`
	WindowTitle   string   `json:"window_title,omitempty"`
	URL           string   `json:"url,omitempty"`
	URLHost       string   `json:"url_host,omitempty"`
	MediaPath     string   `json:"media_path"`
	ThumbnailPath string   `json:"thumbnail_path,omitempty"`
	OCRText       string   `json:"ocr_text"`
	Transcript    string   `json:"transcript,omitempty"`
	Entities      []string `json:"entities,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	VideoStatus   string   `json:"video_status,omitempty"`
}

// ScoredRecord pairs a record with its lexical relevance score,
// normalized to (0,1].
type ScoredRecord struct {
	Record
	Score float64 `json:"score"`
}

// Stats summarizes the store contents.
type Stats struct {
	Count    int64            `json:"count"`
	OldestTS int64            `json:"oldest_ts"`
	NewestTS int64            `json:"newest_ts"`
	PerApp   map[string]int64 `json:"per_app"`
}

// RecentFilter narrows a Recent scan. Zero values mean no filtering.
type RecentFilter struct {
	SinceMillis int64
	App         string
	URLHost     string
}
