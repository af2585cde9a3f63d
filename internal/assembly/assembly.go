// Package assembly runs the output pipeline: create the destination, stamp
// metadata, copy pages with a merge strategy, optionally number and optimise
// the pages, and serialize. Only one run may be in flight per Pipeline.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/codec"
	"github.com/local/pdfmerger/internal/collection"
	"github.com/local/pdfmerger/internal/merge"
	"github.com/local/pdfmerger/internal/metrics"
	"github.com/local/pdfmerger/internal/pagerange"
	"github.com/local/pdfmerger/internal/progress"
)

// MinFiles is the smallest queue a merge accepts.
const MinFiles = 2

var (
	ErrInsufficientFiles = errors.New("at least 2 files are required to merge")
	ErrAlreadyMerging    = errors.New("a merge is already in progress")
	ErrNoPagesSelected   = errors.New("page range selects no pages in any file")
	ErrAnnotation        = errors.New("page numbering failed")
	ErrSerialization     = errors.New("serialization failed")
)

// StageError records the stage a merge failed in.
type StageError struct {
	Stage progress.Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("merge failed while %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Options are the per-merge switches.
type Options struct {
	Strategy         merge.Strategy
	Range            pagerange.Spec
	PreserveMetadata bool
	AddPageNumbers   bool
	OptimizeSize     bool
	// AddBookmarks is accepted for parity with the upload form; outlines are not written yet.
	AddBookmarks bool
}

// PageNumberStyle configures the "<n> / <total>" labels.
type PageNumberStyle struct {
	Font   string
	Size   float64
	Margin float64
	Color  codec.Color
}

// DefaultPageNumberStyle is small grey Helvetica in the bottom right corner.
var DefaultPageNumberStyle = PageNumberStyle{Font: "Helvetica", Size: 10, Margin: 18, Color: codec.Gray(0.8)}

// Config wires a Pipeline.
type Config struct {
	Codec     codec.Codec
	Optimizer codec.Optimizer
	Reporter  progress.Reporter
	// Metadata supplies title, author and subject; timestamps are set per run.
	Metadata    codec.Metadata
	PageNumbers PageNumberStyle
	Now         func() time.Time
}

// Result is a finished merge.
type Result struct {
	ID              string        `json:"id"`
	FileName        string        `json:"file_name"`
	Bytes           []byte        `json:"-"`
	SizeBytes       int64         `json:"size_bytes"`
	PageCount       int           `json:"page_count"`
	FilesCount      int           `json:"files_count"`
	Strategy        string        `json:"strategy"`
	EmptySelections []string      `json:"empty_selections,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	Duration        time.Duration `json:"duration"`
}

// Pipeline executes merges one at a time.
type Pipeline struct {
	cfg  Config
	busy atomic.Bool

	mu    sync.RWMutex
	stage progress.Stage
}

// New fills unset Config fields with defaults.
func New(cfg Config) *Pipeline {
	if cfg.Optimizer == nil {
		cfg.Optimizer = codec.NopOptimizer{}
	}
	if cfg.Reporter == nil {
		cfg.Reporter = progress.Discard
	}
	if cfg.PageNumbers.Font == "" {
		cfg.PageNumbers = DefaultPageNumberStyle
	}
	if cfg.Metadata.Title == "" {
		cfg.Metadata.Title = "Merged PDF Document"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg, stage: progress.StageIdle}
}

// Busy reports whether a merge is in flight.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Stage returns the stage of the current or most recent run.
func (p *Pipeline) Stage() progress.Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stage
}

func (p *Pipeline) enter(s progress.Stage, r progress.Reporter, current, total int, msg string) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
	log.Debug().Str("stage", string(s)).Msg(msg)
	r.Report(progress.NewEvent(s, current, total, msg))
}

// Run merges docs. It fails fast with ErrInsufficientFiles or
// ErrAlreadyMerging without touching any state; every other failure is a
// *StageError and no partial output is returned. reporter, when non-nil,
// receives this run's events in addition to the configured reporter.
func (p *Pipeline) Run(ctx context.Context, docs []*collection.Document, opts Options, reporter progress.Reporter) (*Result, error) {
	strategy := opts.Strategy.String()
	if len(docs) < MinFiles {
		metrics.ObserveMerge(strategy, "insufficient", 0)
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientFiles, len(docs))
	}
	if !p.busy.CompareAndSwap(false, true) {
		metrics.ObserveMerge(strategy, "busy", 0)
		return nil, ErrAlreadyMerging
	}
	defer p.busy.Store(false)

	r := p.cfg.Reporter
	if reporter != nil {
		r = progress.Multi(p.cfg.Reporter, reporter)
	}
	start := p.cfg.Now()
	res, err := p.run(ctx, docs, opts, r, start)
	if err != nil {
		p.enter(progress.StageFailed, r, 0, 1, err.Error())
		log.Error().Err(err).Str("strategy", strategy).Int("files", len(docs)).Msg("merge failed")
		metrics.ObserveMerge(strategy, "failed", 0)
		return nil, err
	}
	res.Duration = p.cfg.Now().Sub(start)
	metrics.ObserveMerge(strategy, "success", res.Duration)
	metrics.AddPages(strategy, res.PageCount)
	log.Info().Str("merge_id", res.ID).Str("strategy", strategy).Int("files", res.FilesCount).
		Int("pages", res.PageCount).Int64("bytes", res.SizeBytes).Dur("took", res.Duration).Msg("merge completed")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, docs []*collection.Document, opts Options, r progress.Reporter, start time.Time) (*Result, error) {
	c := p.cfg.Codec
	fail := func(s progress.Stage, err error) (*Result, error) {
		return nil, &StageError{Stage: s, Err: err}
	}

	p.enter(progress.StageCreating, r, 0, 1, "Creating merged document...")
	dst, err := c.Create()
	if err != nil {
		return fail(progress.StageCreating, err)
	}
	defer dst.Close()
	if opts.PreserveMetadata {
		md := p.cfg.Metadata
		md.CreatedAt, md.ModifiedAt = start, start
		if err := c.SetMetadata(dst, md); err != nil {
			return fail(progress.StageCreating, err)
		}
	}

	sources := merge.Plan(docs, opts.Range)
	var empty []string
	for _, s := range sources {
		if len(s.Indices) == 0 {
			empty = append(empty, s.Name)
			ev := progress.NewEvent(progress.StageCopyingPages, 0, 1, fmt.Sprintf("No pages selected in %s", s.Name))
			ev.Warning = true
			r.Report(ev)
		}
	}
	total := merge.Total(sources)
	if total == 0 {
		return fail(progress.StageCopyingPages, ErrNoPagesSelected)
	}

	p.enter(progress.StageCopyingPages, r, 0, total, fmt.Sprintf("%s merge of %d files", opts.Strategy, len(sources)))
	_, err = merge.Run(ctx, opts.Strategy, sources, merge.NewSink(c, dst), func(done, total int, src merge.Source, idx int) {
		r.Report(progress.NewEvent(progress.StageCopyingPages, done, total,
			fmt.Sprintf("Processing %s: page %d/%d", src.Name, done, total)))
	})
	if err != nil {
		return fail(progress.StageCopyingPages, err)
	}
	if opts.AddBookmarks {
		log.Debug().Int("sources", len(sources)).Msg("bookmarks requested; outlines are not written")
	}

	if opts.AddPageNumbers {
		n := dst.PageCount()
		p.enter(progress.StageAnnotating, r, 0, n, "Adding page numbers...")
		if err := p.number(dst, n); err != nil {
			return fail(progress.StageAnnotating, fmt.Errorf("%w: %w", ErrAnnotation, err))
		}
	}

	if opts.OptimizeSize {
		p.enter(progress.StageOptimizing, r, 1, 1, "Optimizing merged PDF...")
		if err := p.cfg.Optimizer.Optimize(dst); err != nil {
			return fail(progress.StageOptimizing, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(progress.StageOptimizing, err)
	}

	p.enter(progress.StageSerializing, r, 1, 1, "Generating final PDF...")
	out, err := c.Serialize(dst)
	if err != nil {
		return fail(progress.StageSerializing, fmt.Errorf("%w: %w", ErrSerialization, err))
	}

	res := &Result{
		ID:              uuid.NewString(),
		FileName:        fmt.Sprintf("merged-document-%d.pdf", start.UnixMilli()),
		Bytes:           out,
		SizeBytes:       int64(len(out)),
		PageCount:       dst.PageCount(),
		FilesCount:      len(docs),
		Strategy:        opts.Strategy.String(),
		EmptySelections: empty,
		CreatedAt:       start,
	}
	p.enter(progress.StageDone, r, 1, 1, "PDF files merged successfully")
	return res, nil
}

// number draws "<i> / <n>" on every destination page with one embedded font.
func (p *Pipeline) number(dst codec.Handle, n int) error {
	st := p.cfg.PageNumbers
	font, err := p.cfg.Codec.EmbedFont(dst, st.Font)
	if err != nil {
		return err
	}
	style := codec.TextStyle{Font: font, Size: st.Size, Color: st.Color, Anchor: codec.BottomRight, Margin: st.Margin}
	for i := 0; i < n; i++ {
		if err := p.cfg.Codec.DrawText(dst, i, fmt.Sprintf("%d / %d", i+1, n), style); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
	}
	return nil
}
