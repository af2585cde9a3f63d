// Command pdfmerge merges PDFs from local paths, URLs or s3:// references
// into one file without running the HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/local/pdfmerger/internal/assembly"
	"github.com/local/pdfmerger/internal/codec"
	"github.com/local/pdfmerger/internal/collection"
	cfgpkg "github.com/local/pdfmerger/internal/config"
	logpkg "github.com/local/pdfmerger/internal/logger"
	"github.com/local/pdfmerger/internal/merge"
	"github.com/local/pdfmerger/internal/merger"
	"github.com/local/pdfmerger/internal/pagerange"
	"github.com/local/pdfmerger/internal/pdfcodec"
	"github.com/local/pdfmerger/internal/progress"
	"github.com/local/pdfmerger/internal/storage"
)

type options struct {
	out      string
	strategy string
	mode     string
	pages    string
	numbers  bool
	metadata bool
	optimize bool
	password string
	bucket   string
	quiet    bool
}

func main() {
	var o options
	flag.StringVar(&o.out, "o", "merged.pdf", "output file")
	flag.StringVar(&o.strategy, "strategy", "sequential", "sequential or alternating")
	flag.StringVar(&o.mode, "range", "all", "page range: all, odd, even or custom")
	flag.StringVar(&o.pages, "pages", "", "custom page expression such as 1-3,5 (implies -range custom)")
	flag.BoolVar(&o.numbers, "numbers", false, "stamp \"n / total\" on every page")
	flag.BoolVar(&o.metadata, "metadata", false, "write title, author and timestamps")
	flag.BoolVar(&o.optimize, "optimize", false, "optimize the merged file")
	flag.StringVar(&o.password, "password", "", "password for sealed s3 objects (defaults to RESULT_PASSWORD)")
	flag.StringVar(&o.bucket, "s3-bucket", "", "bucket for s3:// inputs (defaults to AWS_S3_BUCKET)")
	flag.BoolVar(&o.quiet, "q", false, "no progress bar")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: pdfmerge [flags] <file|url|s3://bucket/key>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(o, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "pdfmerge:", err)
		os.Exit(1)
	}
}

func run(o options, refs []string) error {
	if len(refs) < assembly.MinFiles {
		flag.Usage()
		return assembly.ErrInsufficientFiles
	}
	opts, err := o.mergeOptions()
	if err != nil {
		return err
	}

	cfg := cfgpkg.Load()
	_ = logpkg.Init(logpkg.Options{Level: cfg.Logging.Level, Pretty: true, Stderr: true, Service: "pdfmerge-cli"})
	defer logpkg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fetcher, err := o.fetcher(ctx, cfg)
	if err != nil {
		return err
	}
	results := fetcher.FetchAll(ctx, refs)

	pdf := pdfcodec.New()
	s := merger.New(merger.Config{
		Codec:       pdf,
		Optimizer:   pdf,
		Metadata:    codec.Metadata{Title: cfg.Merge.Title, Author: cfg.Merge.Author, Subject: cfg.Merge.Subject},
		MaxFileSize: cfg.Merge.MaxFileBytes,
	})
	defer s.Close()

	cands := make([]collection.Candidate, 0, len(results))
	for _, r := range results {
		cands = append(cands, r.Candidate())
	}
	outcomes, err := s.AddFiles(cands...)
	if err != nil {
		return err
	}
	for _, out := range outcomes {
		if out.Err != nil {
			log.Warn().Str("file", out.Name).Err(out.Err).Msg("skipped")
		}
	}

	var reporter progress.Reporter
	if !o.quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		width, _, err := term.GetSize(int(os.Stderr.Fd()))
		if err != nil {
			width = 80
		}
		reporter = newBar(os.Stderr, width)
	}
	res, err := s.Merge(ctx, opts, reporter)
	if b, ok := reporter.(*bar); ok {
		b.done()
	}
	if err != nil {
		return err
	}
	for _, name := range res.EmptySelections {
		log.Warn().Str("file", name).Msg("no pages selected")
	}

	if dir := filepath.Dir(o.out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(o.out, res.Bytes, 0o644); err != nil {
		return err
	}
	log.Info().Str("output", o.out).Int("pages", res.PageCount).Int("files", res.FilesCount).
		Int64("bytes", res.SizeBytes).Dur("took", res.Duration).Msg("merged")
	return nil
}

func (o options) mergeOptions() (assembly.Options, error) {
	strategy, err := merge.ParseStrategy(o.strategy)
	if err != nil {
		return assembly.Options{}, err
	}
	mode, err := pagerange.ParseMode(o.mode)
	if err != nil {
		return assembly.Options{}, err
	}
	if strings.TrimSpace(o.pages) != "" {
		mode = pagerange.Custom
	} else if mode == pagerange.Custom {
		return assembly.Options{}, errors.New("-range custom needs -pages")
	}
	return assembly.Options{
		Strategy:         strategy,
		Range:            pagerange.Spec{Mode: mode, Expr: o.pages},
		PreserveMetadata: o.metadata,
		AddPageNumbers:   o.numbers,
		OptimizeSize:     o.optimize,
	}, nil
}

func (o options) fetcher(ctx context.Context, cfg cfgpkg.Config) (*storage.Fetcher, error) {
	// command line refs may be local paths or any URL
	f := &storage.Fetcher{
		AllowLocal: true,
		AllowHTTP:  true,
		MaxBytes:   cfg.Merge.MaxFileBytes,
		Password:   cfg.Results.Password,
	}
	if o.password != "" {
		f.Password = o.password
	}
	bucket := cfg.S3.Bucket
	if o.bucket != "" {
		bucket = o.bucket
	}
	if bucket == "" {
		return f, nil
	}
	s3c, err := storage.NewS3Client(ctx, storage.S3Options{
		Bucket:          bucket,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Endpoint:        cfg.S3.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	f.S3 = s3c
	return f, nil
}
