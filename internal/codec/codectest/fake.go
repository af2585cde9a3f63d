// Package codectest provides an in-memory codec whose documents are plain
// labelled page lists, so merge order can be asserted page by page.
package codectest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/local/pdfmerger/internal/codec"
)

// Encode builds the input bytes of a fake document called name with n pages.
// Pages are labelled name0, name1, ...
func Encode(name string, n int) []byte {
	return []byte(fmt.Sprintf("%%PDF-1.7\nFAKE %s %d\n", name, n))
}

// Doc is a fake document handle.
type Doc struct {
	Name   string
	Pages  []string
	Meta   *codec.Metadata
	Labels map[int]string
	Fonts  []string
	Closed bool
}

func (d *Doc) PageCount() int { return len(d.Pages) }

func (d *Doc) Close() error {
	d.Closed = true
	return nil
}

// Codec is a fake codec.Codec. Hooks are optional and let tests inject
// failures or stall a merge in flight.
type Codec struct {
	// CopyHook runs before every page copy; a non-nil error fails the copy.
	CopyHook func(src *Doc, pageIndex int) error
	// SerializeErr fails every Serialize call when set.
	SerializeErr error

	mu      sync.Mutex
	created []*Doc
}

var _ codec.Codec = (*Codec)(nil)

// Load parses bytes produced by Encode.
func (c *Codec) Load(data []byte) (codec.Handle, error) {
	s := string(data)
	i := strings.Index(s, "FAKE ")
	if i < 0 {
		return nil, fmt.Errorf("%w: not a fake document", codec.ErrDecode)
	}
	fields := strings.Fields(s[i+len("FAKE "):])
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: truncated header", codec.ErrDecode)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad page count", codec.ErrDecode)
	}
	d := &Doc{Name: fields[0]}
	for p := 0; p < n; p++ {
		d.Pages = append(d.Pages, fmt.Sprintf("%s%d", fields[0], p))
	}
	return d, nil
}

func (c *Codec) Create() (codec.Handle, error) {
	d := &Doc{Name: "dest", Labels: map[int]string{}}
	c.mu.Lock()
	c.created = append(c.created, d)
	c.mu.Unlock()
	return d, nil
}

// Created returns every destination created so far.
func (c *Codec) Created() []*Doc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Doc(nil), c.created...)
}

func (c *Codec) CopyPage(dst, src codec.Handle, pageIndex int) (codec.PageToken, error) {
	s, ok := src.(*Doc)
	if !ok {
		return nil, errors.New("foreign handle")
	}
	if c.CopyHook != nil {
		if err := c.CopyHook(s, pageIndex); err != nil {
			return nil, err
		}
	}
	if pageIndex < 0 || pageIndex >= len(s.Pages) {
		return nil, fmt.Errorf("page %d out of range", pageIndex)
	}
	return s.Pages[pageIndex], nil
}

func (c *Codec) AppendPage(dst codec.Handle, page codec.PageToken) error {
	d := dst.(*Doc)
	label, ok := page.(string)
	if !ok {
		return errors.New("foreign page token")
	}
	d.Pages = append(d.Pages, label)
	return nil
}

func (c *Codec) SetMetadata(dst codec.Handle, md codec.Metadata) error {
	dst.(*Doc).Meta = &md
	return nil
}

func (c *Codec) EmbedFont(dst codec.Handle, name string) (codec.Font, error) {
	d := dst.(*Doc)
	d.Fonts = append(d.Fonts, name)
	return codec.Font{Name: name}, nil
}

func (c *Codec) DrawText(dst codec.Handle, pageIndex int, text string, style codec.TextStyle) error {
	d := dst.(*Doc)
	if pageIndex < 0 || pageIndex >= len(d.Pages) {
		return fmt.Errorf("page %d out of range", pageIndex)
	}
	d.Labels[pageIndex] = text
	return nil
}

// Serialize writes one page label per line after a header line.
func (c *Codec) Serialize(dst codec.Handle) ([]byte, error) {
	if c.SerializeErr != nil {
		return nil, c.SerializeErr
	}
	d := dst.(*Doc)
	return []byte("FAKEOUT\n" + strings.Join(d.Pages, "\n")), nil
}

// Order decodes Serialize output back into the page label sequence.
func Order(out []byte) []string {
	lines := strings.Split(string(out), "\n")
	if len(lines) <= 1 || lines[1] == "" {
		return []string{}
	}
	return lines[1:]
}

// Optimizer counts invocations.
type Optimizer struct {
	mu    sync.Mutex
	Calls int
}

func (o *Optimizer) Optimize(codec.Handle) error {
	o.mu.Lock()
	o.Calls++
	o.mu.Unlock()
	return nil
}
