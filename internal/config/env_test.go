package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"MERGE_MAX_FILE_MB", "MERGE_TITLE", "REDIS_URL", "PORT", "RESULT_DIR", "AWS_S3_BUCKET", "AXIOM_DATASET", "FETCH_ALLOWED_HOSTS", "UPLOAD_MAX_FILES"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	assert.Equal(t, int64(100<<20), cfg.Merge.MaxFileBytes)
	assert.Equal(t, "Merged PDF Document", cfg.Merge.Title)
	assert.Equal(t, "Helvetica", cfg.Merge.PageNumberFont)
	assert.Equal(t, 10.0, cfg.Merge.PageNumberSize)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, int64(64<<20), cfg.Server.UploadMaxMemory)
	assert.Equal(t, 50, cfg.Server.UploadMaxFiles)
	assert.Empty(t, cfg.Server.FetchAllowedHosts)
	assert.Empty(t, cfg.Store.RedisURL)
	assert.Equal(t, 24*time.Hour, cfg.Store.StatusTTL)
	assert.Equal(t, "uploads/results", cfg.Results.Dir)
	assert.Equal(t, "dev_pdfmerger", cfg.Axiom.Dataset)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MERGE_MAX_FILE_MB", "5")
	t.Setenv("SESSION_IDLE_TTL", "90s")
	t.Setenv("PAGE_NUMBER_SIZE", "8.5")
	t.Setenv("LOG_COMPRESS", "no")
	t.Setenv("STATUS_TTL", "not-a-duration")
	t.Setenv("FETCH_ALLOWED_HOSTS", " Docs.Example.com, ,.cdn.example.net")
	cfg := FromEnv()
	assert.Equal(t, int64(5<<20), cfg.Merge.MaxFileBytes)
	assert.Equal(t, 90*time.Second, cfg.Server.SessionIdleTTL)
	assert.Equal(t, 8.5, cfg.Merge.PageNumberSize)
	assert.False(t, cfg.Logging.Compress)
	assert.Equal(t, []string{"docs.example.com", ".cdn.example.net"}, cfg.Server.FetchAllowedHosts)
	assert.Equal(t, 24*time.Hour, cfg.Store.StatusTTL, "bad values fall back to the default")
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	p := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(p, []byte("MERGE_AUTHOR=Dotenv Author\nPORT=9999\n"), 0o644))
	t.Setenv("PORT", "7000")
	t.Setenv("MERGE_AUTHOR", "")
	os.Unsetenv("MERGE_AUTHOR")

	cfg := Load(p, filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "Dotenv Author", cfg.Merge.Author)
	assert.Equal(t, "7000", cfg.Server.Port)
	os.Unsetenv("MERGE_AUTHOR")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " on "} {
		assert.True(t, parseBool(v), v)
	}
	for _, v := range []string{"", "0", "off", "nah"} {
		assert.False(t, parseBool(v), v)
	}
}
