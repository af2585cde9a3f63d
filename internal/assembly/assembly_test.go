package assembly

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfmerger/internal/codec/codectest"
	"github.com/local/pdfmerger/internal/collection"
	"github.com/local/pdfmerger/internal/merge"
	"github.com/local/pdfmerger/internal/pagerange"
	"github.com/local/pdfmerger/internal/progress"
)

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func queue(t *testing.T, fc *codectest.Codec, files map[string]int, order ...string) []*collection.Document {
	t.Helper()
	col := collection.New(fc)
	for _, name := range order {
		out := col.Add(collection.BytesCandidate(name+".pdf", codectest.Encode(name, files[name])))
		require.NoError(t, out[0].Err)
	}
	return col.Documents()
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Report(e progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Stage
	for _, e := range r.events {
		if len(out) == 0 || out[len(out)-1] != e.Stage {
			out = append(out, e.Stage)
		}
	}
	return out
}

func newPipeline(fc *codectest.Codec, opt *codectest.Optimizer) *Pipeline {
	cfg := Config{Codec: fc, Now: func() time.Time { return fixedNow }}
	if opt != nil {
		cfg.Optimizer = opt
	}
	return New(cfg)
}

func TestRun_Sequential(t *testing.T) {
	fc := &codectest.Codec{}
	docs := queue(t, fc, map[string]int{"A": 3, "B": 2}, "A", "B")
	rec := &recorder{}

	res, err := newPipeline(fc, nil).Run(context.Background(), docs, Options{Strategy: merge.Sequential}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"A0", "A1", "A2", "B0", "B1"}, codectest.Order(res.Bytes))
	assert.Equal(t, 5, res.PageCount)
	assert.Equal(t, int64(len(res.Bytes)), res.SizeBytes)
	assert.Equal(t, 2, res.FilesCount)
	assert.Equal(t, "merged-document-1792324800000.pdf", res.FileName)
	assert.Equal(t, []progress.Stage{progress.StageCreating, progress.StageCopyingPages, progress.StageSerializing, progress.StageDone}, rec.stages())
	assert.Nil(t, fc.Created()[0].Meta, "metadata only when requested")
}

func TestRun_AlternatingWithAllOptions(t *testing.T) {
	fc := &codectest.Codec{}
	opt := &codectest.Optimizer{}
	docs := queue(t, fc, map[string]int{"A": 3, "B": 1}, "A", "B")
	rec := &recorder{}

	res, err := newPipeline(fc, opt).Run(context.Background(), docs, Options{
		Strategy:         merge.Alternating,
		PreserveMetadata: true,
		AddPageNumbers:   true,
		OptimizeSize:     true,
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"A0", "B0", "A1", "A2"}, codectest.Order(res.Bytes))
	dst := fc.Created()[0]
	require.NotNil(t, dst.Meta)
	assert.Equal(t, "Merged PDF Document", dst.Meta.Title)
	assert.Equal(t, fixedNow, dst.Meta.CreatedAt)
	assert.Equal(t, []string{"Helvetica"}, dst.Fonts, "exactly one font embedding")
	assert.Equal(t, map[int]string{0: "1 / 4", 1: "2 / 4", 2: "3 / 4", 3: "4 / 4"}, dst.Labels)
	assert.Equal(t, 1, opt.Calls)
	assert.Equal(t, []progress.Stage{
		progress.StageCreating, progress.StageCopyingPages, progress.StageAnnotating,
		progress.StageOptimizing, progress.StageSerializing, progress.StageDone,
	}, rec.stages())

	var copies []progress.Event
	for _, e := range rec.events {
		if e.Stage == progress.StageCopyingPages && e.Current > 0 {
			copies = append(copies, e)
		}
	}
	require.Len(t, copies, 4)
	assert.Equal(t, 4, copies[3].Total)
	assert.Equal(t, 100, copies[3].Percent)
}

func TestRun_InsufficientFiles(t *testing.T) {
	fc := &codectest.Codec{}
	docs := queue(t, fc, map[string]int{"A": 3}, "A")
	p := newPipeline(fc, nil)

	_, err := p.Run(context.Background(), docs, Options{}, nil)
	assert.ErrorIs(t, err, ErrInsufficientFiles)
	assert.Empty(t, fc.Created(), "nothing attempted")
	assert.Equal(t, progress.StageIdle, p.Stage())
}

func TestRun_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fc := &codectest.Codec{}
	docs := queue(t, fc, map[string]int{"A": 2, "B": 2}, "A", "B")
	fc.CopyHook = func(*codectest.Doc, int) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}
	p := newPipeline(fc, nil)

	type outcome struct {
		res *Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := p.Run(context.Background(), docs, Options{}, nil)
		first <- outcome{res, err}
	}()

	<-entered
	assert.True(t, p.Busy())
	_, err := p.Run(context.Background(), docs, Options{}, nil)
	assert.ErrorIs(t, err, ErrAlreadyMerging)

	close(release)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, []string{"A0", "A1", "B0", "B1"}, codectest.Order(got.res.Bytes))
	assert.False(t, p.Busy())
}

func TestRun_PageCopyFailure(t *testing.T) {
	boom := errors.New("corrupt page")
	fc := &codectest.Codec{CopyHook: func(d *codectest.Doc, i int) error {
		if d.Name == "B" {
			return boom
		}
		return nil
	}}
	docs := queue(t, fc, map[string]int{"A": 1, "B": 1}, "A", "B")
	p := newPipeline(fc, nil)
	rec := &recorder{}

	res, err := p.Run(context.Background(), docs, Options{}, rec)
	require.Error(t, err)
	assert.Nil(t, res)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, progress.StageCopyingPages, se.Stage)
	assert.ErrorIs(t, err, merge.ErrPageCopy)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, progress.StageFailed, p.Stage())
	assert.False(t, p.Busy())
	assert.True(t, fc.Created()[0].Closed, "partial destination is discarded")
}

func TestRun_SerializationFailure(t *testing.T) {
	fc := &codectest.Codec{SerializeErr: errors.New("disk full")}
	docs := queue(t, fc, map[string]int{"A": 1, "B": 1}, "A", "B")

	_, err := newPipeline(fc, nil).Run(context.Background(), docs, Options{}, nil)
	assert.ErrorIs(t, err, ErrSerialization)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, progress.StageSerializing, se.Stage)
}

func TestRun_EmptySelections(t *testing.T) {
	fc := &codectest.Codec{}
	docs := queue(t, fc, map[string]int{"A": 1, "B": 3}, "A", "B")
	rec := &recorder{}

	res, err := newPipeline(fc, nil).Run(context.Background(), docs, Options{Range: pagerange.Spec{Mode: pagerange.Even}}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, codectest.Order(res.Bytes))
	assert.Equal(t, []string{"A.pdf"}, res.EmptySelections)

	warned := false
	for _, e := range rec.events {
		warned = warned || e.Warning
	}
	assert.True(t, warned)
}

func TestRun_NothingSelected(t *testing.T) {
	fc := &codectest.Codec{}
	docs := queue(t, fc, map[string]int{"A": 2, "B": 2}, "A", "B")

	rec := &recorder{}
	p := newPipeline(fc, nil)

	res, err := p.Run(context.Background(), docs, Options{Range: pagerange.Spec{Mode: pagerange.Custom, Expr: "abc"}}, rec)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoPagesSelected)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, progress.StageCopyingPages, se.Stage)

	var warnings []string
	for _, e := range rec.events {
		if e.Warning {
			warnings = append(warnings, e.Message)
		}
	}
	assert.Equal(t, []string{"No pages selected in A.pdf", "No pages selected in B.pdf"}, warnings)
	assert.Equal(t, progress.StageFailed, p.Stage())
	assert.Empty(t, fc.Created()[0].Pages, "nothing was copied")
}
