package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfmerger/internal/merge"
	"github.com/local/pdfmerger/internal/pagerange"
	"github.com/local/pdfmerger/internal/pdftest"
	"github.com/local/pdfmerger/internal/progress"
)

func TestMergeOptions(t *testing.T) {
	opts, err := options{strategy: "alternating", mode: "all", pages: "1-2", numbers: true}.mergeOptions()
	require.NoError(t, err)
	assert.Equal(t, merge.Alternating, opts.Strategy)
	assert.Equal(t, pagerange.Spec{Mode: pagerange.Custom, Expr: "1-2"}, opts.Range)
	assert.True(t, opts.AddPageNumbers)

	_, err = options{strategy: "zipper"}.mergeOptions()
	assert.Error(t, err)
	_, err = options{mode: "custom"}.mergeOptions()
	assert.Error(t, err)
}

func TestBar(t *testing.T) {
	var buf bytes.Buffer
	b := newBar(&buf, 50)
	b.Report(progress.NewEvent(progress.StageCopyingPages, 1, 2, ""))
	b.Report(progress.NewEvent(progress.StageCopyingPages, 1, 2, ""))
	b.done()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\r"), "identical lines are not redrawn")
	assert.Contains(t, out, " 50% copying_pages")
	line := strings.TrimSuffix(strings.TrimPrefix(out, "\r"), "\n")
	assert.Len(t, line, 49)
}

func TestRun_LocalFiles(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(a, pdftest.Pages("A", 2), 0o644))
	require.NoError(t, os.WriteFile(b, pdftest.Pages("B", 2), 0o644))
	out := filepath.Join(dir, "out", "merged.pdf")

	require.NoError(t, run(options{out: out, strategy: "alternating", mode: "all", quiet: true}, []string{a, b}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	texts, err := pdftest.Texts(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"A0", "B0", "A1", "B1"}, texts)
}

func TestRun_SkipsMissingSource(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(a, pdftest.Pages("A", 1), 0o644))
	require.NoError(t, os.WriteFile(b, pdftest.Pages("B", 1), 0o644))
	out := filepath.Join(dir, "merged.pdf")

	refs := []string{a, filepath.Join(dir, "missing.pdf"), b}
	require.NoError(t, run(options{out: out, strategy: "sequential", mode: "all", quiet: true}, refs))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	texts, err := pdftest.Texts(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"A0", "B0"}, texts)
}
