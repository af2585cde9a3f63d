package preview

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfmerger/internal/pdftest"
)

func TestFirstPage(t *testing.T) {
	r := New()
	out, err := r.FirstPage(pdftest.Pages("A", 2))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	// 612x792pt at 36 dpi
	assert.InDelta(t, 306, img.Bounds().Dx(), 1)
	assert.InDelta(t, 396, img.Bounds().Dy(), 1)
}

func TestFirstPage_Gray(t *testing.T) {
	r := &Renderer{DPI: 18, Gray: true}
	out, err := r.FirstPage(pdftest.Pages("A", 1))
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}

func TestFirstPage_Invalid(t *testing.T) {
	_, err := New().FirstPage([]byte("not a pdf"))
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	require.NoError(t, New().Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New().Ping(ctx), context.Canceled)
}
