package dedupe

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestCheck_FirstFrameKept(t *testing.T) {
	d, err := New(0.85)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := writeArtifact(t, "frame.png", 1000)
	dec := d.Check("e1", path, "OMEGA Seamaster Aqua Terra", 1000)

	if !dec.Keep {
		t.Errorf("first frame should be kept, got %+v", dec)
	}
	if d.Len() != 1 {
		t.Errorf("cache len = %d, want 1", d.Len())
	}
}

func TestCheck_NearDuplicateWithinTenSeconds(t *testing.T) {
	d, err := New(0.85)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := "OMEGA Seamaster Aqua Terra — $3,495"
	a := writeArtifact(t, "frame-a.png", 2048)
	b := writeArtifact(t, "frame-b.png", 2048)

	if dec := d.Check("e1", a, text, 1000); !dec.Keep {
		t.Fatalf("e1 should be kept, got %+v", dec)
	}

	// Identical size, identical text, 5ms later.
	dec := d.Check("e2", b, text, 1005)
	if dec.Keep {
		t.Errorf("e2 should be a duplicate, got %+v", dec)
	}
	if dec.Similarity < 0.85 {
		t.Errorf("similarity = %v, want >= 0.85", dec.Similarity)
	}
	if dec.MatchedPriorID != "e1" {
		t.Errorf("matched prior = %q, want e1", dec.MatchedPriorID)
	}
	if d.Len() != 1 {
		t.Errorf("duplicate should not be cached, len = %d", d.Len())
	}
}

func TestCheck_DistinctFramesKept(t *testing.T) {
	d, err := New(0.85)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := writeArtifact(t, "frame-a.png", 500)
	b := writeArtifact(t, "frame-b.png", 90000)

	if dec := d.Check("e1", a, "reading the news", 1000); !dec.Keep {
		t.Fatalf("e1 should be kept, got %+v", dec)
	}
	if dec := d.Check("e2", b, "writing an email instead", 1500); !dec.Keep {
		t.Errorf("e2 should be kept, got %+v", dec)
	}
}

func TestCheck_OutsideCompareWindow(t *testing.T) {
	d, err := New(0.85)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := "identical text both times"
	a := writeArtifact(t, "frame-a.png", 2048)
	b := writeArtifact(t, "frame-b.png", 2048)

	if dec := d.Check("e1", a, text, 1000); !dec.Keep {
		t.Fatalf("e1 should be kept, got %+v", dec)
	}

	// 61 seconds later: still cached, but never compared against.
	dec := d.Check("e2", b, text, 1000+61_000)
	if !dec.Keep {
		t.Errorf("frame outside 60s window should be kept, got %+v", dec)
	}
	if dec.Similarity != 0 {
		t.Errorf("no comparison expected, similarity = %v", dec.Similarity)
	}
}

func TestCacheBound(t *testing.T) {
	d, err := NewWithCapacity(0.99, 100)
	if err != nil {
		t.Fatalf("NewWithCapacity: %v", err)
	}

	// 150 distinct fingerprints, spaced far apart so none dedupe.
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("e%d", i)
		dec := d.Check(id, fmt.Sprintf("/missing/frame-%c%c.png", 'a'+i%26, 'a'+i/26),
			fmt.Sprintf("unique screen text number %d", i), int64(i)*120_000)
		if !dec.Keep {
			t.Fatalf("frame %d unexpectedly deduplicated: %+v", i, dec)
		}
	}

	if d.Len() != 100 {
		t.Errorf("cache len = %d, want 100", d.Len())
	}

	// The survivors are exactly the 100 most recent: e0..e49 evicted,
	// e50..e149 retained.
	for _, id := range []string{"e0", "e49"} {
		if d.cache.Contains(id) {
			t.Errorf("%s still cached, oldest entries must be evicted first", id)
		}
	}
	for _, id := range []string{"e50", "e149"} {
		if !d.cache.Contains(id) {
			t.Errorf("%s evicted, recent entries must survive", id)
		}
	}
}

func TestFingerprintHash_NormalizesTimestamps(t *testing.T) {
	a := FingerprintHash("capture-2024-01-01_12:00:01.png", "clock shows 12:00:01 now", 512)
	b := FingerprintHash("capture-2024-01-01_12:00:09.png", "clock shows 12:00:09 now", 512)

	if a != b {
		t.Errorf("hashes should match after timestamp normalization:\n  %s\n  %s", a, b)
	}

	c := FingerprintHash("capture-2024-01-01_12:00:01.png", "completely different content", 512)
	if a == c {
		t.Error("different text should produce different hashes")
	}
}

func TestSizeCloseness(t *testing.T) {
	if got := sizeCloseness(1000, 1000); got != 1 {
		t.Errorf("equal sizes = %v, want 1", got)
	}
	if got := sizeCloseness(500, 1000); got != 0.5 {
		t.Errorf("half size = %v, want 0.5", got)
	}
	if got := sizeCloseness(0, 1000); got != 0 {
		t.Errorf("zero vs nonzero = %v, want 0", got)
	}
}
