package thumbnail

import (
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := NewGenerator(filepath.Join(t.TempDir(), "thumbnails"))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0x80, 0xff})
		}
	}

	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

func decodeThumb(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open thumbnail: %v", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	return img
}

func TestGenerate(t *testing.T) {
	g := newTestGenerator(t)
	artifact := writePNG(t, 640, 480)

	out, err := g.Generate(artifact, "e1", "Safari")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != g.PathFor("e1") {
		t.Errorf("out = %q, want %q", out, g.PathFor("e1"))
	}

	b := decodeThumb(t, out).Bounds()
	if b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("thumbnail size = %dx%d, want 300x200", b.Dx(), b.Dy())
	}
}

func TestGenerateIdempotent(t *testing.T) {
	g := newTestGenerator(t)
	artifact := writePNG(t, 640, 480)

	out, err := g.Generate(artifact, "e1", "Safari")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	first, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	// Second call returns the existing file untouched, even when the
	// artifact has since vanished.
	if err := os.Remove(artifact); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}
	again, err := g.Generate(artifact, "e1", "Safari")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if again != out {
		t.Errorf("second path = %q, want %q", again, out)
	}
	second, _ := os.Stat(out)
	if !second.ModTime().Equal(first.ModTime()) || second.Size() != first.Size() {
		t.Error("existing thumbnail was rewritten")
	}
}

func TestGenerateMissingArtifact(t *testing.T) {
	g := newTestGenerator(t)

	out, err := g.Generate("/nonexistent/frame.png", "e1", "Safari")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "" {
		t.Errorf("out = %q, want empty for missing artifact", out)
	}
}

func TestGeneratePlaceholderForUndecodable(t *testing.T) {
	g := newTestGenerator(t)

	// A video segment or any non-image payload.
	artifact := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(artifact, []byte("not an image"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	out, err := g.Generate(artifact, "e1", "QuickTime Player")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out == "" {
		t.Fatal("placeholder expected, got no thumbnail")
	}

	b := decodeThumb(t, out).Bounds()
	if b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("placeholder size = %dx%d, want 300x200", b.Dx(), b.Dy())
	}
}
