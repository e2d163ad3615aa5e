// Package dedupe decides whether a captured frame is a near-duplicate of
// a recently seen one. The fingerprint is a cheap proxy for visual
// similarity: artifact size, the leading OCR text, and the filename
// pattern. It trades recall for near-zero compute cost; no pixel or
// perceptual hashing is performed. A stronger implementation can swap in
// a perceptual hash behind the same Check contract.
package dedupe

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// textPrefixLen is how much leading OCR text feeds the fingerprint.
	textPrefixLen = 500

	// compareWindowMillis bounds how far back a new frame is compared.
	// Cached entries older than this are never consulted.
	compareWindowMillis = 60_000

	// nearTimeMillis is the window for the time-proximity bonus.
	nearTimeMillis = 10_000

	// maxCompare caps how many recent entries each frame is scored against.
	maxCompare = 10

	// hashPrefixLen is the prefix compared for the partial-match bonus.
	hashPrefixLen = 8

	// defaultCacheSize bounds the fingerprint recency cache.
	defaultCacheSize = 100
)

// Similarity weights. Identical size plus the near-time bonus must reach
// the default 0.85 threshold on their own, so that back-to-back identical
// frames are caught even when filenames carry no recognizable pattern.
const (
	sizeWeight      = 0.60
	nearTimeBonus   = 0.25
	hashPrefixBonus = 0.15
)

// Fingerprint identifies one kept frame for duplicate comparison. It is
// never persisted; it lives only in the recency cache.
type Fingerprint struct {
	RecordID  string
	Hash      string
	Size      int64
	Timestamp int64 // epoch millis
}

// Decision is the outcome of a duplicate check.
type Decision struct {
	Keep           bool
	Similarity     float64
	MatchedPriorID string
}

// Deduplicator owns the bounded fingerprint cache. Timestamps arrive
// monotonically from the capture stream, so LRU insertion order doubles
// as oldest-timestamp-first eviction: entries are only ever added, never
// touched, and the cache evicts the oldest insert when full.
//
// The cache is read and updated only from the single-threaded pipeline
// call path and needs no locking of its own beyond what the LRU provides.
type Deduplicator struct {
	cache     *lru.Cache[string, Fingerprint]
	threshold float64
}

// New creates a Deduplicator with the given duplicate threshold and the
// default cache capacity.
func New(threshold float64) (*Deduplicator, error) {
	return NewWithCapacity(threshold, defaultCacheSize)
}

// NewWithCapacity creates a Deduplicator with an explicit cache bound.
func NewWithCapacity(threshold float64, capacity int) (*Deduplicator, error) {
	cache, err := lru.New[string, Fingerprint](capacity)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint cache: %w", err)
	}
	return &Deduplicator{cache: cache, threshold: threshold}, nil
}

// Check scores a new frame against the most recent cached fingerprints
// and decides keep-vs-duplicate. On keep, the frame's fingerprint is
// inserted into the cache (evicting the oldest entry when over capacity).
func (d *Deduplicator) Check(recordID, artifactPath, ocrText string, timestamp int64) Decision {
	size := artifactSize(artifactPath)
	fp := Fingerprint{
		RecordID:  recordID,
		Hash:      FingerprintHash(artifactPath, ocrText, size),
		Size:      size,
		Timestamp: timestamp,
	}

	best := Decision{Keep: true}

	// Newest first, at most maxCompare entries inside the time window.
	values := d.cache.Values()
	compared := 0
	for i := len(values) - 1; i >= 0 && compared < maxCompare; i-- {
		prior := values[i]
		if timestamp-prior.Timestamp > compareWindowMillis {
			break
		}
		compared++

		sim := similarity(fp, prior)
		if sim > best.Similarity {
			best.Similarity = sim
			best.MatchedPriorID = prior.RecordID
		}
	}

	if best.Similarity >= d.threshold {
		best.Keep = false
		return best
	}

	d.cache.Add(recordID, fp)
	return best
}

// Len returns the number of cached fingerprints.
func (d *Deduplicator) Len() int {
	return d.cache.Len()
}

// similarity scores two fingerprints in [0,1].
func similarity(a, b Fingerprint) float64 {
	if a.Hash == b.Hash {
		return 1.0
	}

	score := sizeWeight * sizeCloseness(a.Size, b.Size)

	delta := a.Timestamp - b.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta < nearTimeMillis {
		score += nearTimeBonus
	}

	if len(a.Hash) >= hashPrefixLen && len(b.Hash) >= hashPrefixLen &&
		a.Hash[:hashPrefixLen] == b.Hash[:hashPrefixLen] {
		score += hashPrefixBonus
	}

	return score
}

// sizeCloseness penalizes proportionally to the relative size difference,
// floored at 0. Equal sizes score 1.
func sizeCloseness(a, b int64) float64 {
	if a == b {
		return 1
	}
	larger := a
	if b > larger {
		larger = b
	}
	if larger == 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	c := 1 - float64(diff)/float64(larger)
	if c < 0 {
		return 0
	}
	return c
}

var (
	// Embedded clocks and dates vary between otherwise identical frames;
	// both OCR text and capture filenames are normalized before hashing.
	timestampRe = regexp.MustCompile(`\d{1,2}:\d{2}(:\d{2})?`)
	dateRe      = regexp.MustCompile(`\d{4}[-_]?\d{2}[-_]?\d{2}`)
	digitRunRe  = regexp.MustCompile(`\d{6,}`)
)

// FingerprintHash computes the stable content hash for a frame.
func FingerprintHash(artifactPath, ocrText string, size int64) string {
	text := ocrText
	if len(text) > textPrefixLen {
		text = text[:textPrefixLen]
	}
	text = normalizeTimestamps(text)

	name := normalizeFilename(filepath.Base(artifactPath))

	h := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s", size, text, name))
	return fmt.Sprintf("%x", h[:])
}

func normalizeTimestamps(s string) string {
	s = dateRe.ReplaceAllString(s, "#")
	s = timestampRe.ReplaceAllString(s, "#")
	return s
}

func normalizeFilename(name string) string {
	name = dateRe.ReplaceAllString(name, "#")
	name = timestampRe.ReplaceAllString(name, "#")
	name = digitRunRe.ReplaceAllString(name, "#")
	return strings.ToLower(name)
}

func artifactSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
