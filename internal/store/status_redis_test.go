//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a throwaway Redis and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisStatus(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisStatus(startRedis(t), time.Hour)
	require.NoError(t, err)
	defer s.Close()

	start := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	st := Status{
		Stage:    "done",
		Progress: 100,
		Current:  1,
		Total:    1,
		Message:  "PDF files merged successfully",
		Warnings: []string{"No pages selected in a.pdf"},
		Start:    &start,
		Metadata: map[string]interface{}{"file_name": "merged-document-1.pdf", "page_count": float64(4)},
	}
	require.NoError(t, s.Set(ctx, "abc", st))

	got, ok, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.Stage, got.Stage)
	assert.Equal(t, st.Progress, got.Progress)
	assert.Equal(t, st.Warnings, got.Warnings)
	assert.Equal(t, st.Metadata, got.Metadata)
	require.NotNil(t, got.Start)
	assert.True(t, start.Equal(*got.Start))
	assert.Nil(t, got.End)

	ttl, err := s.client.TTL(ctx, s.key("abc")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	// a later write with fewer fields must not leave stale ones behind
	require.NoError(t, s.Set(ctx, "abc", Status{Stage: "copying_pages"}))
	got, _, err = s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, got.Warnings)

	require.NoError(t, s.Delete(ctx, "abc"))
	_, ok, err = s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Ping(ctx))
}
