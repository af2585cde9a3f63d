// Package merge implements the page ordering strategies that copy selected
// pages from the queued sources into a destination document.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/local/pdfmerger/internal/codec"
	"github.com/local/pdfmerger/internal/collection"
	"github.com/local/pdfmerger/internal/pagerange"
)

// ErrPageCopy wraps any failure to copy or append a page.
var ErrPageCopy = errors.New("page copy failed")

// Strategy decides how pages from several sources are ordered.
type Strategy int

const (
	// Sequential appends every selected page of one source before the next source.
	Sequential Strategy = iota
	// Alternating deals one page per source per round, in queue order.
	Alternating
)

func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case Alternating:
		return "alternating"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy accepts "sequential" (or "") and "alternating".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential":
		return Sequential, nil
	case "alternating":
		return Alternating, nil
	}
	return Sequential, fmt.Errorf("unknown merge strategy %q", s)
}

// Sink is the destination side of a merge.
type Sink interface {
	CopyPage(src codec.Handle, pageIndex int) (codec.PageToken, error)
	AppendPage(page codec.PageToken) error
}

type codecSink struct {
	c   codec.Codec
	dst codec.Handle
}

// NewSink binds a destination handle to the codec that created it.
func NewSink(c codec.Codec, dst codec.Handle) Sink { return codecSink{c: c, dst: dst} }

func (s codecSink) CopyPage(src codec.Handle, pageIndex int) (codec.PageToken, error) {
	return s.c.CopyPage(s.dst, src, pageIndex)
}

func (s codecSink) AppendPage(page codec.PageToken) error { return s.c.AppendPage(s.dst, page) }

// Source is one queued document with its resolved page indices.
type Source struct {
	ID      string
	Name    string
	Handle  codec.Handle
	Indices []int
}

// Plan resolves spec against every document, keeping queue order.
func Plan(docs []*collection.Document, spec pagerange.Spec) []Source {
	out := make([]Source, 0, len(docs))
	for _, d := range docs {
		out = append(out, Source{
			ID:      d.ID,
			Name:    d.Name,
			Handle:  d.Handle(),
			Indices: pagerange.Resolve(spec, d.PageCount),
		})
	}
	return out
}

// Total is the number of pages a run over sources will append.
func Total(sources []Source) int {
	n := 0
	for _, s := range sources {
		n += len(s.Indices)
	}
	return n
}

// ProgressFunc is called after every appended page.
type ProgressFunc func(done, total int, src Source, pageIndex int)

// Run copies pages into sink following strategy and returns the number of
// pages appended. The first copy or append error aborts the run. ctx is
// checked before every page.
func Run(ctx context.Context, strategy Strategy, sources []Source, sink Sink, onPage ProgressFunc) (int, error) {
	total := Total(sources)
	done := 0
	step := func(src Source, idx int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := sink.CopyPage(src.Handle, idx)
		if err != nil {
			return fmt.Errorf("%w: %s page %d: %w", ErrPageCopy, src.Name, idx+1, err)
		}
		if err := sink.AppendPage(tok); err != nil {
			return fmt.Errorf("%w: append %s page %d: %w", ErrPageCopy, src.Name, idx+1, err)
		}
		done++
		if onPage != nil {
			onPage(done, total, src, idx)
		}
		return nil
	}

	switch strategy {
	case Alternating:
		for round := 0; ; round++ {
			added := false
			for _, src := range sources {
				if round >= len(src.Indices) {
					continue
				}
				if err := step(src, src.Indices[round]); err != nil {
					return done, err
				}
				added = true
			}
			if !added {
				break
			}
		}
	case Sequential:
		for _, src := range sources {
			for _, idx := range src.Indices {
				if err := step(src, idx); err != nil {
					return done, err
				}
			}
		}
	default:
		return 0, fmt.Errorf("unknown merge strategy %d", int(strategy))
	}
	return done, nil
}
