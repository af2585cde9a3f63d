// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// MergeConfig holds the output document defaults.
type MergeConfig struct {
	MaxFileBytes   int64
	Title          string
	Author         string
	Subject        string
	PageNumberFont string
	PageNumberSize float64
	PageNumberGap  float64
	PreviewDPI     float64
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port            string
	UploadMaxMemory int64
	UploadMaxFiles  int
	SessionIdleTTL  time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
	// FetchAllowedHosts limits http(s) sources; empty disables them.
	FetchAllowedHosts []string
}

// StoreConfig selects the status store. An empty RedisURL keeps status in memory.
type StoreConfig struct {
	RedisURL  string
	StatusTTL time.Duration
}

// ResultsConfig controls where exported results go.
type ResultsConfig struct {
	Dir       string
	Retention time.Duration
	S3Prefix  string
	Password  string
}

// S3Config holds bucket access. An empty Bucket disables S3.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Merge   MergeConfig
	Server  ServerConfig
	Store   StoreConfig
	Results ResultsConfig
	S3      S3Config
}

// Load reads files (".env" when none are given) into the environment
// without overriding variables that are already set, then calls FromEnv.
// Missing files are not an error.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfmerger.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfmerger",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Merge = MergeConfig{
		MaxFileBytes:   int64(parseInt(getEnv("MERGE_MAX_FILE_MB", "100"), 100)) << 20,
		Title:          getEnv("MERGE_TITLE", "Merged PDF Document"),
		Author:         getEnv("MERGE_AUTHOR", ""),
		Subject:        getEnv("MERGE_SUBJECT", "Merged PDF created with pdfmerger"),
		PageNumberFont: getEnv("PAGE_NUMBER_FONT", "Helvetica"),
		PageNumberSize: parseFloat(getEnv("PAGE_NUMBER_SIZE", "10"), 10),
		PageNumberGap:  parseFloat(getEnv("PAGE_NUMBER_MARGIN", "18"), 18),
		PreviewDPI:     parseFloat(getEnv("PREVIEW_DPI", "36"), 36),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "8080"),
		UploadMaxMemory: int64(parseInt(getEnv("UPLOAD_MAX_MEMORY_MB", "64"), 64)) << 20,
		UploadMaxFiles:  parseInt(getEnv("UPLOAD_MAX_FILES", "50"), 50),
		SessionIdleTTL:  parseDuration(getEnv("SESSION_IDLE_TTL", "1h"), time.Hour),
		SweepInterval:   parseDuration(getEnv("SESSION_SWEEP_INTERVAL", "5m"), 5*time.Minute),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}
	cfg.Server.FetchAllowedHosts = parseList(getEnv("FETCH_ALLOWED_HOSTS", ""))

	cfg.Store = StoreConfig{
		RedisURL:  getEnv("REDIS_URL", ""),
		StatusTTL: parseDuration(getEnv("STATUS_TTL", "24h"), 24*time.Hour),
	}

	cfg.Results = ResultsConfig{
		Dir:       getEnv("RESULT_DIR", "uploads/results"),
		Retention: parseDuration(getEnv("RESULT_RETENTION", "24h"), 24*time.Hour),
		S3Prefix:  getEnv("RESULT_S3_PREFIX", "results"),
		Password:  getEnv("RESULT_PASSWORD", ""),
	}

	cfg.S3 = S3Config{
		Bucket:          getEnv("AWS_S3_BUCKET", ""),
		Region:          getEnv("AWS_REGION", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
