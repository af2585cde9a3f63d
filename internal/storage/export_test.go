package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	p, err := LocalExporter{Dir: dir}.Export(context.Background(), "../merged-document-1.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "merged-document-1.pdf"), p)
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is gone")
}

func TestS3Exporter(t *testing.T) {
	s3 := &fakeS3{}
	url, err := S3Exporter{Client: s3, Prefix: "/results/", Password: "pw"}.Export(context.Background(), "merged.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/results/merged.pdf", url)

	info := s3.puts["results/merged.pdf"]
	assert.True(t, info.Encrypted)
	assert.Equal(t, "application/pdf", info.ContentType)
	plain, err := Open(s3.objects["bucket/results/merged.pdf"], "pw")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), plain)

	_, err = S3Exporter{Client: s3}.Export(context.Background(), "plain.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.False(t, s3.puts["plain.pdf"].Encrypted)
	assert.Equal(t, []byte("%PDF"), s3.objects["bucket/plain.pdf"])
}
