// Package preview renders thumbnails of queued documents with MuPDF.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// ErrEmpty is returned for documents without pages.
var ErrEmpty = errors.New("document has no pages")

// Renderer draws the first page of a PDF as a JPEG.
type Renderer struct {
	DPI     float64
	Quality int
	Gray    bool
}

// New returns a renderer producing small colour thumbnails.
func New() *Renderer {
	return &Renderer{DPI: 36, Quality: 75}
}

// FirstPage renders page one of data.
func (r *Renderer) FirstPage(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	if doc.NumPage() == 0 {
		return nil, ErrEmpty
	}

	img, err := doc.ImageDPI(0, r.dpi())
	if err != nil {
		return nil, fmt.Errorf("failed to render page 1: %w", err)
	}
	var out image.Image = img
	if r.Gray {
		g := image.NewGray(img.Bounds())
		draw.Draw(g, g.Bounds(), img, image.Point{}, draw.Src)
		out = g
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: r.quality()}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	log.Debug().
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Int("jpeg_size", buf.Len()).
		Msg("rendered preview")
	return buf.Bytes(), nil
}

func (r *Renderer) dpi() float64 {
	if r.DPI <= 0 {
		return 36
	}
	return r.DPI
}

func (r *Renderer) quality() int {
	if r.Quality <= 0 || r.Quality > 100 {
		return 75
	}
	return r.Quality
}
