// Package pdfcodec implements codec.Codec on top of pdfcpu.
//
// Copied pages are kept as references into their source bytes and only
// materialised at Serialize time: the used pages of each source are collected
// once, the collections are merged and reordered, and stamps, properties and
// optimisation are applied as extra passes.
package pdfcodec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/format"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/codec"
)

// coreFonts are the standard Type 1 fonts every reader ships; they need no font program.
var coreFonts = map[string]struct{}{
	"Courier": {}, "Courier-Bold": {}, "Courier-Oblique": {}, "Courier-BoldOblique": {},
	"Helvetica": {}, "Helvetica-Bold": {}, "Helvetica-Oblique": {}, "Helvetica-BoldOblique": {},
	"Times-Roman": {}, "Times-Bold": {}, "Times-Italic": {}, "Times-BoldItalic": {},
	"Symbol": {}, "ZapfDingbats": {},
}

type stamp struct {
	text  string
	style codec.TextStyle
}

type document struct {
	data  []byte
	pages int

	dest     bool
	refs     []pageRef
	meta     *codec.Metadata
	fonts    map[string]struct{}
	stamps   map[int][]stamp
	optimize bool
	closed   bool
}

type pageRef struct {
	src   *document
	data  []byte
	index int
}

func (d *document) PageCount() int {
	if d.dest {
		return len(d.refs)
	}
	return d.pages
}

func (d *document) Close() error {
	d.closed = true
	d.data = nil
	d.refs = nil
	return nil
}

// Codec is the pdfcpu backed codec.
type Codec struct {
	conf *model.Configuration
}

var (
	_ codec.Codec     = (*Codec)(nil)
	_ codec.Optimizer = (*Codec)(nil)
)

// New returns a codec using relaxed validation, which accepts the slightly
// broken files real users tend to upload.
func New() *Codec {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Codec{conf: conf}
}

func (c *Codec) handle(h codec.Handle) (*document, error) {
	d, ok := h.(*document)
	if !ok || d == nil {
		return nil, errors.New("pdfcodec: handle not created by this codec")
	}
	if d.closed {
		return nil, errors.New("pdfcodec: handle already closed")
	}
	return d, nil
}

// Load keeps a reference to data; callers must not modify it afterwards.
func (c *Codec) Load(data []byte) (codec.Handle, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), c.config())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrDecode, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrDecode, err)
	}
	return &document{data: data, pages: ctx.PageCount}, nil
}

func (c *Codec) Create() (codec.Handle, error) {
	return &document{dest: true, fonts: map[string]struct{}{}, stamps: map[int][]stamp{}}, nil
}

func (c *Codec) CopyPage(dst, src codec.Handle, pageIndex int) (codec.PageToken, error) {
	if _, err := c.handle(dst); err != nil {
		return nil, err
	}
	s, err := c.handle(src)
	if err != nil {
		return nil, err
	}
	if s.dest {
		return nil, errors.New("pdfcodec: cannot copy from an unserialized destination")
	}
	if pageIndex < 0 || pageIndex >= s.pages {
		return nil, fmt.Errorf("pdfcodec: page index %d out of range [0,%d)", pageIndex, s.pages)
	}
	return pageRef{src: s, data: s.data, index: pageIndex}, nil
}

func (c *Codec) AppendPage(dst codec.Handle, page codec.PageToken) error {
	d, err := c.handle(dst)
	if err != nil {
		return err
	}
	ref, ok := page.(pageRef)
	if !ok {
		return fmt.Errorf("pdfcodec: unexpected page token %T", page)
	}
	d.refs = append(d.refs, ref)
	return nil
}

func (c *Codec) SetMetadata(dst codec.Handle, md codec.Metadata) error {
	d, err := c.handle(dst)
	if err != nil {
		return err
	}
	d.meta = &md
	return nil
}

func (c *Codec) EmbedFont(dst codec.Handle, name string) (codec.Font, error) {
	d, err := c.handle(dst)
	if err != nil {
		return codec.Font{}, err
	}
	if _, ok := coreFonts[name]; !ok {
		return codec.Font{}, fmt.Errorf("pdfcodec: font %q is not a standard font", name)
	}
	d.fonts[name] = struct{}{}
	return codec.Font{Name: name}, nil
}

func (c *Codec) DrawText(dst codec.Handle, pageIndex int, text string, style codec.TextStyle) error {
	d, err := c.handle(dst)
	if err != nil {
		return err
	}
	if _, ok := d.fonts[style.Font.Name]; !ok {
		return fmt.Errorf("pdfcodec: font %q was not embedded", style.Font.Name)
	}
	if pageIndex < 0 || pageIndex >= len(d.refs) {
		return fmt.Errorf("pdfcodec: page index %d out of range [0,%d)", pageIndex, len(d.refs))
	}
	d.stamps[pageIndex] = append(d.stamps[pageIndex], stamp{text: text, style: style})
	return nil
}

// Optimize marks the destination for a pdfcpu optimisation pass during Serialize.
func (c *Codec) Optimize(dst codec.Handle) error {
	d, err := c.handle(dst)
	if err != nil {
		return err
	}
	d.optimize = true
	return nil
}

func (c *Codec) Serialize(dst codec.Handle) ([]byte, error) {
	d, err := c.handle(dst)
	if err != nil {
		return nil, err
	}
	if len(d.refs) == 0 {
		return nil, errors.New("pdfcodec: destination has no pages")
	}

	out, err := c.assemble(d.refs)
	if err != nil {
		return nil, err
	}
	if out, err = c.applyStamps(out, d.stamps, len(d.refs)); err != nil {
		return nil, err
	}
	if d.meta != nil {
		if out, err = c.applyMetadata(out, *d.meta); err != nil {
			return nil, err
		}
	}
	if d.optimize {
		var buf bytes.Buffer
		if err := api.Optimize(bytes.NewReader(out), &buf, c.config()); err != nil {
			return nil, fmt.Errorf("pdfcodec: optimize: %w", err)
		}
		log.Debug().Int("before", len(out)).Int("after", buf.Len()).Msg("optimized merged pdf")
		out = buf.Bytes()
	}
	if d.meta != nil {
		// every pdfcpu write resets the dates, so this runs last
		if out, err = patchDates(out, d.meta.CreatedAt, d.meta.ModifiedAt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// config returns a private copy; pdfcpu records the running command in it.
func (c *Codec) config() *model.Configuration {
	conf := *c.conf
	return &conf
}

// part is the slice of one source that the destination uses.
type part struct {
	data  []byte
	pages []int
	pos   map[int]int
}

// assemble collects the used pages of every source once, merges the
// collections in order of first use and, when the destination interleaves
// sources, reorders the merged pages with a single extra pass.
func (c *Codec) assemble(refs []pageRef) ([]byte, error) {
	var parts []*part
	bySrc := make(map[*document]*part)
	for _, r := range refs {
		p, ok := bySrc[r.src]
		if !ok {
			p = &part{data: r.data, pos: make(map[int]int)}
			bySrc[r.src] = p
			parts = append(parts, p)
		}
		if _, seen := p.pos[r.index]; !seen {
			p.pos[r.index] = 0
			p.pages = append(p.pages, r.index)
		}
	}

	collected := make([]io.ReadSeeker, 0, len(parts))
	offset := 0
	for _, p := range parts {
		sort.Ints(p.pages)
		sel := make([]string, len(p.pages))
		for i, idx := range p.pages {
			p.pos[idx] = offset + i + 1
			sel[i] = strconv.Itoa(idx + 1)
		}
		offset += len(p.pages)
		var buf bytes.Buffer
		if err := api.Collect(bytes.NewReader(p.data), &buf, sel, c.config()); err != nil {
			return nil, fmt.Errorf("pdfcodec: collect pages %s: %w", strings.Join(sel, ","), err)
		}
		collected = append(collected, bytes.NewReader(buf.Bytes()))
	}

	var merged []byte
	if len(collected) == 1 {
		merged, _ = io.ReadAll(collected[0])
	} else {
		var out bytes.Buffer
		if err := api.MergeRaw(collected, &out, false, c.config()); err != nil {
			return nil, fmt.Errorf("pdfcodec: merge: %w", err)
		}
		merged = out.Bytes()
	}

	order := make([]string, len(refs))
	inPlace := len(refs) == offset
	for i, r := range refs {
		at := bySrc[r.src].pos[r.index]
		inPlace = inPlace && at == i+1
		order[i] = strconv.Itoa(at)
	}
	if inPlace {
		return merged, nil
	}
	var out bytes.Buffer
	if err := api.Collect(bytes.NewReader(merged), &out, order, c.config()); err != nil {
		return nil, fmt.Errorf("pdfcodec: reorder pages: %w", err)
	}
	return out.Bytes(), nil
}

// stampGroup is one watermark pass: a text template with pdfcpu's %p (page
// number) and %P (page count) placeholders drawn on several pages.
type stampGroup struct {
	template string
	style    codec.TextStyle
	pages    []string
	last     int
}

// applyStamps draws every label in as few passes as possible. Labels that
// differ only in the page number or page count, such as "3 / 10", share a
// template and are stamped together.
func (c *Codec) applyStamps(in []byte, stamps map[int][]stamp, pageCount int) ([]byte, error) {
	if len(stamps) == 0 {
		return in, nil
	}
	groups := groupStamps(stamps, pageCount)
	cur := in
	for _, g := range groups {
		wm, err := api.TextWatermark(g.template, stampDescription(g.style), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("pdfcodec: stamp description: %w", err)
		}
		var buf bytes.Buffer
		if err := api.AddWatermarks(bytes.NewReader(cur), &buf, g.pages, wm, c.config()); err != nil {
			return nil, fmt.Errorf("pdfcodec: stamp %q: %w", g.template, err)
		}
		cur = buf.Bytes()
	}
	log.Debug().Int("pages", len(stamps)).Int("passes", len(groups)).Msg("stamped page labels")
	return cur, nil
}

func groupStamps(stamps map[int][]stamp, pageCount int) []*stampGroup {
	pages := make([]int, 0, len(stamps))
	for p := range stamps {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var groups []*stampGroup
	for _, p := range pages {
		nr := p + 1
		for _, s := range stamps[p] {
			g := findGroup(groups, s, nr, pageCount)
			if g == nil {
				g = &stampGroup{template: textTemplate(s.text, nr, pageCount), style: s.style}
				groups = append(groups, g)
			}
			g.pages = append(g.pages, strconv.Itoa(nr))
			g.last = nr
		}
	}
	return groups
}

func findGroup(groups []*stampGroup, s stamp, nr, pageCount int) *stampGroup {
	for _, g := range groups {
		if g.style != s.style || g.last == nr {
			continue
		}
		if text, _ := format.Text(g.template, "", nr, pageCount); text == s.text {
			return g
		}
	}
	return nil
}

// textTemplate replaces numbers equal to the page number or page count with
// %p and %P. Text that already contains '%' is returned unchanged.
func textTemplate(text string, nr, pageCount int) string {
	if strings.Contains(text, "%") {
		return text
	}
	var b strings.Builder
	for i := 0; i < len(text); {
		if text[i] < '0' || text[i] > '9' {
			b.WriteByte(text[i])
			i++
			continue
		}
		j := i
		for j < len(text) && text[j] >= '0' && text[j] <= '9' {
			j++
		}
		switch v, _ := strconv.Atoi(text[i:j]); {
		case text[i] == '0' && j-i > 1:
			b.WriteString(text[i:j])
		case v == nr:
			b.WriteString("%p")
		case v == pageCount:
			b.WriteString("%P")
		default:
			b.WriteString(text[i:j])
		}
		i = j
	}
	return b.String()
}

func (c *Codec) applyMetadata(in []byte, md codec.Metadata) ([]byte, error) {
	props := map[string]string{}
	if md.Title != "" {
		props["Title"] = md.Title
	}
	if md.Author != "" {
		props["Author"] = md.Author
	}
	if md.Subject != "" {
		props["Subject"] = md.Subject
	}
	if len(props) == 0 {
		return in, nil
	}
	var buf bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(in), &buf, props, c.config()); err != nil {
		return nil, fmt.Errorf("pdfcodec: properties: %w", err)
	}
	return buf.Bytes(), nil
}

// patchDates overwrites the CreationDate and ModDate that pdfcpu stamped into
// the info dictionary at write time. The info dictionary is written after
// the page tree and outside object streams, so its entries are the last
// plain occurrences. Dates keep the fixed width D:YYYYMMDDHHmmSS+HH'mm'
// form, which leaves every cross-reference offset valid.
func patchDates(out []byte, created, modified time.Time) ([]byte, error) {
	for _, e := range []struct {
		key string
		t   time.Time
	}{{"/CreationDate(", created}, {"/ModDate(", modified}} {
		if e.t.IsZero() {
			continue
		}
		start := bytes.LastIndex(out, []byte(e.key))
		if start < 0 {
			return nil, fmt.Errorf("pdfcodec: info dictionary has no %s)", e.key)
		}
		start += len(e.key)
		end := bytes.IndexByte(out[start:], ')')
		want := types.DateString(e.t)
		if end != len(want) {
			return nil, fmt.Errorf("pdfcodec: cannot rewrite %s) in place: %q", e.key, out[start:start+max(end, 0)])
		}
		copy(out[start:start+end], want)
	}
	return out, nil
}

// stampDescription renders a TextStyle in pdfcpu's watermark description syntax.
func stampDescription(s codec.TextStyle) string {
	pos, dx := "br", -s.Margin
	switch s.Anchor {
	case codec.BottomLeft:
		pos, dx = "bl", s.Margin
	case codec.BottomCenter:
		pos, dx = "bc", 0
	}
	return fmt.Sprintf("fontname:%s, points:%d, position:%s, offset:%s %s, scalefactor:1 abs, rotation:0, fillcolor:%s, opacity:1",
		s.Font.Name, int(s.Size+0.5), pos, trimFloat(dx), trimFloat(s.Margin), hexColor(s.Color))
}

func hexColor(c codec.Color) string {
	to := func(v float64) int {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return int(v*255 + 0.5)
	}
	return fmt.Sprintf("#%02X%02X%02X", to(c.R), to(c.G), to(c.B))
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
