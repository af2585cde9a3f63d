// Package codec describes the paginated-document capability the merge engine
// depends on. The production implementation lives in internal/pdfcodec; tests
// use the in-memory fake in codec/codectest.
package codec

import (
	"errors"
	"time"
)

// ErrDecode is wrapped by Load implementations when input bytes are not a readable document.
var ErrDecode = errors.New("document decode failed")

// Handle is a decoded (or freshly created) document. It is owned by exactly
// one holder and must be closed when that holder lets go of it.
type Handle interface {
	PageCount() int
	Close() error
}

// PageToken is an opaque page copied out of a source Handle, ready to be
// appended to a destination created by the same Codec.
type PageToken interface{}

// Metadata is stamped onto a destination document.
type Metadata struct {
	Title      string
	Author     string
	Subject    string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Font is returned by EmbedFont and passed back to DrawText.
type Font struct {
	Name string
}

// Color is an RGB triple with components in [0, 1].
type Color struct {
	R, G, B float64
}

// Gray returns a neutral color of the given intensity.
func Gray(v float64) Color { return Color{R: v, G: v, B: v} }

// Anchor positions drawn text relative to a page edge.
type Anchor int

const (
	BottomRight Anchor = iota
	BottomLeft
	BottomCenter
)

// TextStyle controls where and how DrawText places a label. Margin is the
// distance in points from the anchored page edges.
type TextStyle struct {
	Font   Font
	Size   float64
	Color  Color
	Anchor Anchor
	Margin float64
}

// Codec is the paginated-document library seen by the merge engine.
type Codec interface {
	Load(data []byte) (Handle, error)
	Create() (Handle, error)
	CopyPage(dst, src Handle, pageIndex int) (PageToken, error)
	AppendPage(dst Handle, page PageToken) error
	SetMetadata(dst Handle, md Metadata) error
	EmbedFont(dst Handle, name string) (Font, error)
	DrawText(dst Handle, pageIndex int, text string, style TextStyle) error
	Serialize(dst Handle) ([]byte, error)
}

// Optimizer is the size-reduction hook run before serialization.
// Implementations may do nothing.
type Optimizer interface {
	Optimize(dst Handle) error
}

// NopOptimizer leaves the document untouched.
type NopOptimizer struct{}

func (NopOptimizer) Optimize(Handle) error { return nil }
