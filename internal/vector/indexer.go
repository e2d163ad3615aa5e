package vector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Item is one pending unit of indexing work: the record id, the text to
// embed, and the metadata stored alongside the vector.
type Item struct {
	ID   string
	Text string
	Meta Entry
}

// Stats is a snapshot of indexer accounting.
type Stats struct {
	Enabled      bool  `json:"enabled"`
	Indexed      int64 `json:"indexed"`
	Dropped      int64 `json:"dropped"`
	DeadLettered int64 `json:"dead_lettered"`
	Pending      int   `json:"pending"`
}

// Indexer consumes enqueued items in the background, embeds them in
// batches and upserts the vectors. It never blocks record creation: the
// queue is bounded and sheds the oldest pending item when full, and
// provider failures end in a dead-letter counter, not in backpressure.
type Indexer struct {
	provider   EmbeddingProvider
	coll       *Collection
	queue      chan Item
	limiter    *rate.Limiter
	retry      RetryConfig
	batchSize  int
	flushEvery time.Duration

	indexed      atomic.Int64
	dropped      atomic.Int64
	deadLettered atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// IndexerConfig wires an Indexer.
type IndexerConfig struct {
	QueueDepth        int
	BatchSize         int
	FlushEvery        time.Duration
	RequestsPerMinute int
	Retry             RetryConfig
}

// NewIndexer creates an indexer. A nil provider disables semantic
// indexing entirely: Enqueue becomes a no-op and keyword search carries
// the whole load.
func NewIndexer(provider EmbeddingProvider, coll *Collection, cfg IndexerConfig) *Indexer {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 512
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 2 * time.Second
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Indexer{
		provider:   provider,
		coll:       coll,
		queue:      make(chan Item, cfg.QueueDepth),
		limiter:    limiter,
		retry:      cfg.Retry,
		batchSize:  cfg.BatchSize,
		flushEvery: cfg.FlushEvery,
	}
}

// Enabled reports whether a provider is configured.
func (ix *Indexer) Enabled() bool {
	return ix.provider != nil
}

// Enqueue adds an item for background indexing without ever blocking.
// When the queue is full the oldest pending item is dropped and counted.
func (ix *Indexer) Enqueue(item Item) {
	if ix.provider == nil {
		return
	}
	item.Text = TruncateTokens(item.Text)

	for {
		select {
		case ix.queue <- item:
			return
		default:
		}

		select {
		case old := <-ix.queue:
			ix.dropped.Add(1)
			slog.Warn("vector queue full, dropped oldest pending item", "id", old.ID)
		default:
		}
	}
}

// Start launches the background consumer.
func (ix *Indexer) Start() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.running || ix.provider == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ix.cancel = cancel
	ix.done = make(chan struct{})
	ix.running = true

	go ix.loop(ctx)
	slog.Info("vector indexer started",
		"provider", ix.provider.Name(),
		"model", ix.provider.Model(),
		"batch_size", ix.batchSize,
	)
}

// Stop halts the consumer after the current batch finishes.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	if !ix.running {
		ix.mu.Unlock()
		return
	}
	ix.running = false
	ix.cancel()
	done := ix.done
	ix.mu.Unlock()

	<-done
	slog.Info("vector indexer stopped")
}

// Stats returns a snapshot of indexer accounting.
func (ix *Indexer) Stats() Stats {
	return Stats{
		Enabled:      ix.provider != nil,
		Indexed:      ix.indexed.Load(),
		Dropped:      ix.dropped.Load(),
		DeadLettered: ix.deadLettered.Load(),
		Pending:      len(ix.queue),
	}
}

// EmbedQuery embeds a single search query under the same rate limit as
// indexing traffic.
func (ix *Indexer) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ix.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vecs, err := ix.provider.Embed(ctx, []string{TruncateTokens(text)})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}

func (ix *Indexer) loop(ctx context.Context) {
	defer close(ix.done)

	ticker := time.NewTicker(ix.flushEvery)
	defer ticker.Stop()

	var batch []Item
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ix.process(ctx, batch)
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case item := <-ix.queue:
			batch = append(batch, item)
			if len(batch) >= ix.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// process embeds one batch and upserts the results. Exhausted retries
// dead-letter the whole batch; the pipeline is never retried through.
func (ix *Indexer) process(ctx context.Context, batch []Item) {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.Text
	}

	var vecs [][]float32
	attempts, err := retryEmbed(ctx, ix.retry, func() error {
		if err := ix.limiter.Wait(ctx); err != nil {
			return err
		}
		var embedErr error
		vecs, embedErr = ix.provider.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		ix.deadLettered.Add(int64(len(batch)))
		slog.Warn("embedding batch dead-lettered",
			"size", len(batch),
			"attempts", attempts,
			"error", err,
		)
		return
	}

	for i, item := range batch {
		entry := item.Meta
		entry.ID = item.ID
		entry.Embedding = vecs[i]
		entry.Model = ix.provider.Model()

		if err := ix.coll.Upsert(entry); err != nil {
			ix.deadLettered.Add(1)
			slog.Warn("vector upsert failed", "id", item.ID, "error", err)
			continue
		}
		ix.indexed.Add(1)
	}
}
