package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Exporter persists a merged result and returns where it went.
type Exporter interface {
	Export(ctx context.Context, name string, data []byte) (string, error)
}

// LocalExporter writes results under Dir, uploads/results when empty.
type LocalExporter struct {
	Dir string
}

func (e LocalExporter) dir() string {
	if e.Dir == "" {
		return filepath.Join("uploads", "results")
	}
	return e.Dir
}

// Export writes through a temp file so readers never see a partial PDF.
func (e LocalExporter) Export(_ context.Context, name string, data []byte) (string, error) {
	dir := e.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	p := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", err
	}
	if err := os.Chmod(p, 0o644); err != nil {
		return "", err
	}
	log.Info().Str("path", p).Int("size", len(data)).Msg("saved merged pdf locally")
	return p, nil
}

// ObjectPutter is the part of S3Client the exporter needs.
type ObjectPutter interface {
	Put(ctx context.Context, key string, data []byte, info ObjectInfo) (string, error)
}

// S3Exporter uploads results under Prefix, sealing them when Password is set.
type S3Exporter struct {
	Client   ObjectPutter
	Prefix   string
	Password string
}

func (e S3Exporter) Export(ctx context.Context, name string, data []byte) (string, error) {
	info := ObjectInfo{Name: name, ContentType: "application/pdf", Size: int64(len(data))}
	body := data
	if e.Password != "" {
		sealed, err := Seal(data, e.Password)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt result: %w", err)
		}
		body = sealed
		info.Encrypted = true
	}
	key := path.Join(strings.Trim(e.Prefix, "/"), path.Base(name))
	return e.Client.Put(ctx, key, body, info)
}
