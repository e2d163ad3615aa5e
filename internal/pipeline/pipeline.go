// Package pipeline drives ingestion: poll the capture source at a fixed
// cadence, deduplicate frames, generate thumbnails, persist records to
// the keyword store and hand text to the vector indexer.
//
// Each event moves through received → deduplicated → assetGenerated →
// persisted(keyword) → enqueued(vector). The keyword-store write is the
// only must-succeed step: everything after it is best-effort, and a
// failure before it skips the one event, never the stream.
package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/retrace-app/retrace/internal/capture"
	"github.com/retrace-app/retrace/internal/dedupe"
	"github.com/retrace-app/retrace/internal/store"
	"github.com/retrace-app/retrace/internal/thumbnail"
	"github.com/retrace-app/retrace/internal/vector"
)

// Source is the capture-source boundary consumed by the pipeline.
type Source interface {
	Poll(ctx context.Context, sinceMillis int64, limit int) ([]capture.Event, error)
	Health(ctx context.Context) error
}

// Config tunes the pipeline.
type Config struct {
	PollInterval time.Duration
	PageLimit    int

	// IndexDuplicateText merges a near-duplicate frame's OCR text into
	// the matched prior record instead of discarding it. OCR captured a
	// few seconds apart can differ even when the frame does not.
	IndexDuplicateText bool
}

// Counters is a snapshot of pipeline throughput accounting.
type Counters struct {
	Polled      int64 `json:"polled"`
	Ingested    int64 `json:"ingested"`
	Duplicates  int64 `json:"duplicates"`
	Skipped     int64 `json:"skipped"`
	PutFailures int64 `json:"put_failures"`
	PollErrors  int64 `json:"poll_errors"`
}

// Pipeline is the ingestion orchestrator.
type Pipeline struct {
	cfg       Config
	source    Source
	dedup     *dedupe.Deduplicator
	thumbs    *thumbnail.Generator
	records   *store.SQLiteStore
	indexer   *vector.Indexer
	sessionID string

	cursor int64 // newest timestamp seen from the source

	polled      atomic.Int64
	ingested    atomic.Int64
	duplicates  atomic.Int64
	skipped     atomic.Int64
	putFailures atomic.Int64
	pollErrors  atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a pipeline. The cursor resumes from the newest timestamp
// already persisted so restarts do not re-pull the whole history.
func New(cfg Config, src Source, dedup *dedupe.Deduplicator, thumbs *thumbnail.Generator,
	records *store.SQLiteStore, indexer *vector.Indexer) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}

	p := &Pipeline{
		cfg:       cfg,
		source:    src,
		dedup:     dedup,
		thumbs:    thumbs,
		records:   records,
		indexer:   indexer,
		sessionID: uuid.NewString(),
	}

	if st, err := records.Stats(); err == nil {
		p.cursor = st.NewestTS
	}
	return p
}

// Start begins the poll loop in a background goroutine.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx)
	slog.Info("ingestion pipeline started",
		"poll_interval", p.cfg.PollInterval,
		"cursor", p.cursor,
		"session", p.sessionID,
	)
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
// New cycles stop immediately; the event being processed completes so
// the keyword store is never left mid-write.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done
	slog.Info("ingestion pipeline stopped")
}

// Counters returns a snapshot of throughput accounting.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Polled:      p.polled.Load(),
		Ingested:    p.ingested.Load(),
		Duplicates:  p.duplicates.Load(),
		Skipped:     p.skipped.Load(),
		PutFailures: p.putFailures.Load(),
		PollErrors:  p.pollErrors.Load(),
	}
}

func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.RunCycle(ctx)
			timer.Reset(p.cfg.PollInterval)
		}
	}
}

// RunCycle executes one poll cycle: fetch a page of events and process
// them sequentially in arrival order. Exported so tests and the doctor
// command can drive the pipeline without the timer.
func (p *Pipeline) RunCycle(ctx context.Context) {
	events, err := p.source.Poll(ctx, p.cursor, p.cfg.PageLimit)
	if err != nil {
		p.pollErrors.Add(1)
		slog.Warn("capture source poll failed", "error", err)
		return
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		p.polled.Add(1)
		p.processEvent(ctx, ev)
		if ev.Timestamp > p.cursor {
			p.cursor = ev.Timestamp
		}
	}
}

// processEvent runs a single event through the state machine.
func (p *Pipeline) processEvent(ctx context.Context, ev capture.Event) {
	// The text field must be present; an empty value is a valid capture
	// of a textless screen.
	if ev.ID == "" || ev.App == "" || ev.MediaPath == "" || ev.OCRText == nil {
		p.skipped.Add(1)
		slog.Debug("event skipped, malformed", "id", ev.ID, "app", ev.App)
		return
	}
	ocrText := *ev.OCRText

	// Replay safety: the source delivers at-least-once, the store keeps
	// at-most-once.
	if p.records.Exists(ev.ID) {
		slog.Debug("event skipped, already persisted", "id", ev.ID)
		return
	}

	decision := p.dedup.Check(ev.ID, ev.MediaPath, ocrText, ev.Timestamp)
	if !decision.Keep {
		p.duplicates.Add(1)
		slog.Debug("frame deduplicated",
			"id", ev.ID,
			"matched", decision.MatchedPriorID,
			"similarity", decision.Similarity,
		)
		if p.cfg.IndexDuplicateText && decision.MatchedPriorID != "" {
			if err := p.records.AppendOCRText(decision.MatchedPriorID, ocrText); err != nil {
				slog.Warn("duplicate text merge failed", "id", decision.MatchedPriorID, "error", err)
			}
		}
		return
	}

	// Asset generation is best-effort: a record without a thumbnail is
	// still a record.
	thumbPath, err := p.thumbs.Generate(ev.MediaPath, ev.ID, ev.App)
	if err != nil {
		slog.Warn("thumbnail generation failed", "id", ev.ID, "error", err)
		thumbPath = ""
	}

	rec := &store.Record{
		ID:            ev.ID,
		Timestamp:     ev.Timestamp,
		SessionID:     p.sessionID,
		App:           ev.App,
		WindowTitle:   ev.WindowTitle,
		URL:           ev.URL,
		URLHost:       hostOf(ev.URL),
		MediaPath:     ev.MediaPath,
		ThumbnailPath: thumbPath,
		OCRText:       ocrText,
	}

	// The only must-succeed step. A failed put skips this record and
	// keeps the stream advancing.
	if err := p.records.Put(rec); err != nil {
		p.putFailures.Add(1)
		slog.Error("keyword store put failed, event discarded", "id", ev.ID, "error", err)
		return
	}
	p.ingested.Add(1)

	if p.indexer != nil && ocrText != "" {
		p.indexer.Enqueue(vector.Item{
			ID:   ev.ID,
			Text: ocrText,
			Meta: vector.Entry{
				Timestamp:     ev.Timestamp,
				App:           ev.App,
				URLHost:       rec.URLHost,
				WindowTitle:   ev.WindowTitle,
				MediaPath:     ev.MediaPath,
				ThumbnailPath: thumbPath,
			},
		})
	}
}

// hostOf extracts the host from a URL, empty on parse failure.
func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
