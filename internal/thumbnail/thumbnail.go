// Package thumbnail produces fixed-size preview images for captured
// artifacts. Generation is best-effort: a record without a thumbnail is
// still a valid record, so every failure short of disk trouble degrades
// to a placeholder or to no thumbnail at all.
package thumbnail

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	thumbWidth  = 300
	thumbHeight = 200
	jpegQuality = 85
)

// Generator writes thumbnails into a single output directory with
// deterministic per-record paths.
type Generator struct {
	dir string
}

// NewGenerator creates a Generator rooted at dir, creating it if needed.
func NewGenerator(dir string) (*Generator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}
	return &Generator{dir: dir}, nil
}

// PathFor returns the deterministic output path for a record id.
func (g *Generator) PathFor(id string) string {
	return filepath.Join(g.dir, id+".jpg")
}

// Generate produces a 300x200 preview for the artifact and returns its
// path. Idempotent: an existing output is returned without regeneration.
// A missing artifact returns ("", nil) and ingestion continues without a
// thumbnail. A present but non-decodable artifact (video segments, exotic
// formats) yields a labeled placeholder instead of an error.
func (g *Generator) Generate(artifactPath, id, label string) (string, error) {
	out := g.PathFor(id)
	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	if _, err := os.Stat(artifactPath); err != nil {
		slog.Debug("thumbnail skipped, artifact missing", "id", id, "artifact", artifactPath)
		return "", nil
	}

	img, err := imaging.Open(artifactPath, imaging.AutoOrientation(true))
	if err != nil {
		// Video or otherwise non-decodable artifact: synthesize a
		// placeholder so the record still gets a preview.
		slog.Debug("thumbnail placeholder", "id", id, "artifact", artifactPath, "reason", err)
		img = placeholder(label)
	} else {
		img = imaging.Fill(img, thumbWidth, thumbHeight, imaging.Center, imaging.Lanczos)
	}

	if err := imaging.Save(img, out, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}
	return out, nil
}

// placeholder renders a dark tile with the label centered on it.
func placeholder(label string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{0x2b, 0x2d, 0x31, 0xff}}, image.Point{}, draw.Src)

	if label == "" {
		label = "no preview"
	}
	if len(label) > 32 {
		label = label[:32]
	}

	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{0xd0, 0xd0, 0xd0, 0xff}),
		Face: face,
		Dot: fixed.P(
			(thumbWidth-width)/2,
			thumbHeight/2+face.Metrics().Ascent.Ceil()/2,
		),
	}
	d.DrawString(label)
	return img
}
