// Package merger is the caller-facing facade over one merge session: a
// queue of source files, its statistics, and the most recent merged result.
package merger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/assembly"
	"github.com/local/pdfmerger/internal/codec"
	"github.com/local/pdfmerger/internal/collection"
	"github.com/local/pdfmerger/internal/metrics"
	"github.com/local/pdfmerger/internal/progress"
)

var (
	ErrNoResult     = errors.New("no merged result available")
	ErrFileNotFound = errors.New("file not found")
	ErrNoPreview    = errors.New("previews are not enabled")
	ErrClosed       = errors.New("session closed")
)

// Previewer renders a thumbnail of a document's first page.
type Previewer interface {
	FirstPage(data []byte) ([]byte, error)
}

// Config wires a Session.
type Config struct {
	Codec       codec.Codec
	Optimizer   codec.Optimizer
	Reporter    progress.Reporter
	Metadata    codec.Metadata
	PageNumbers assembly.PageNumberStyle
	MaxFileSize int64
	Previewer   Previewer
	Now         func() time.Time
}

// Session owns one queue. Mutators are rejected with
// assembly.ErrAlreadyMerging while a merge is running and with ErrClosed
// once the session is closed. mu is never held while files are decoded or
// merged.
type Session struct {
	id        string
	createdAt time.Time
	col       *collection.Collection
	pipe      *assembly.Pipeline
	preview   Previewer
	now       func() time.Time

	mu       sync.Mutex
	merging  bool
	adding   int
	closed   bool
	result   *assembly.Result
	lastUsed time.Time
}

// New creates an empty session.
func New(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now()
	return &Session{
		id:        uuid.NewString(),
		createdAt: now,
		col:       collection.New(cfg.Codec, collection.WithMaxFileSize(cfg.MaxFileSize)),
		pipe: assembly.New(assembly.Config{
			Codec:       cfg.Codec,
			Optimizer:   cfg.Optimizer,
			Reporter:    cfg.Reporter,
			Metadata:    cfg.Metadata,
			PageNumbers: cfg.PageNumbers,
			Now:         cfg.Now,
		}),
		preview:  cfg.Previewer,
		now:      cfg.Now,
		lastUsed: now,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastUsed is the time of the most recent call on the session.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Busy reports whether a merge is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merging
}

// Stage is the pipeline stage of the current or last merge.
func (s *Session) Stage() progress.Stage { return s.pipe.Stage() }

// admit records a call and reports whether mutations are allowed. The
// caller holds mu.
func (s *Session) admit() error {
	s.lastUsed = s.now()
	switch {
	case s.closed:
		return ErrClosed
	case s.merging:
		return assembly.ErrAlreadyMerging
	}
	return nil
}

// mutate runs f unless a merge is in flight. f must not block.
func (s *Session) mutate(f func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.admit(); err != nil {
		return err
	}
	f()
	return nil
}

// AddFiles decodes and queues candidates in order. Per-file failures are in
// the outcomes; the error is only set when the whole batch was refused.
// Decoding runs outside the session lock, so a slow source does not stall
// other calls on the session. A merge that starts meanwhile works on the
// queue as it was when the merge began.
func (s *Session) AddFiles(cands ...collection.Candidate) ([]collection.Outcome, error) {
	s.mu.Lock()
	if err := s.admit(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.adding++
	s.mu.Unlock()

	out := s.col.Add(cands...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.adding--
	s.lastUsed = s.now()
	if s.closed {
		s.col.Clear()
		return nil, ErrClosed
	}
	return out, nil
}

// RemoveFile drops a queued file by id.
func (s *Session) RemoveFile(id string) error {
	var ok bool
	if err := s.mutate(func() { ok = s.col.Remove(id) }); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return nil
}

// Reorder moves the file at oldIndex to newIndex. Out of range indices are ignored.
func (s *Session) Reorder(oldIndex, newIndex int) error {
	return s.mutate(func() { s.col.Reorder(oldIndex, newIndex) })
}

func (s *Session) SortByName() error { return s.mutate(s.col.SortByName) }
func (s *Session) SortBySize() error { return s.mutate(s.col.SortBySize) }
func (s *Session) Reverse() error    { return s.mutate(s.col.Reverse) }

// RemoveDuplicates returns the number of files dropped.
func (s *Session) RemoveDuplicates() (int, error) {
	var n int
	err := s.mutate(func() { n = s.col.RemoveDuplicates() })
	return n, err
}

// SetOptimize switches the output size estimate used by Stats.
func (s *Session) SetOptimize(on bool) error {
	return s.mutate(func() { s.col.SetOptimize(on) })
}

// Clear empties the queue and forgets the last result.
func (s *Session) Clear() error {
	return s.mutate(func() {
		s.col.Clear()
		s.result = nil
	})
}

// Files is a snapshot of the queue in merge order.
func (s *Session) Files() []*collection.Document { return s.col.Documents() }

// Stats is side-effect free; two calls without a mutation in between agree.
func (s *Session) Stats() collection.Stats { return s.col.Stats() }

// Merge runs the pipeline on a snapshot of the queue. A successful run
// replaces the previous result. A merge while another is running fails with
// assembly.ErrAlreadyMerging and leaves the running one alone.
func (s *Session) Merge(ctx context.Context, opts assembly.Options, reporter progress.Reporter) (*assembly.Result, error) {
	s.mu.Lock()
	s.lastUsed = s.now()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	docs := s.col.Documents()
	if len(docs) < assembly.MinFiles {
		s.mu.Unlock()
		// the pipeline rejects this without side effects
		return s.pipe.Run(ctx, docs, opts, reporter)
	}
	if s.merging {
		s.mu.Unlock()
		metrics.ObserveMerge(opts.Strategy.String(), "busy", 0)
		return nil, assembly.ErrAlreadyMerging
	}
	s.merging = true
	s.mu.Unlock()

	s.col.SetOptimize(opts.OptimizeSize)
	res, err := s.pipe.Run(ctx, docs, opts, reporter)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.merging = false
	s.lastUsed = s.now()
	if err != nil {
		return nil, err
	}
	s.result = res
	return res, nil
}

// Result returns the last successful merge.
func (s *Session) Result() (*assembly.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, ErrNoResult
	}
	return s.result, nil
}

// Close releases every queued document. It refuses with
// assembly.ErrAlreadyMerging while a merge is running; after a successful
// Close every call that changes the session fails with ErrClosed. Closing
// twice is a no-op.
func (s *Session) Close() error {
	return s.closeIf(func() bool { return true })
}

// closeIfIdle closes the session when it has not been used since cutoff.
func (s *Session) closeIfIdle(cutoff time.Time) bool {
	return s.closeIf(func() bool { return s.adding == 0 && s.lastUsed.Before(cutoff) }) == nil
}

func (s *Session) closeIf(ok func() bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.merging {
		return assembly.ErrAlreadyMerging
	}
	if s.closed {
		return nil
	}
	if !ok() {
		return errNotIdle
	}
	s.closed = true
	s.col.Clear()
	s.result = nil
	return nil
}

var errNotIdle = errors.New("session in use")

// Preview renders the first page of a queued file.
func (s *Session) Preview(id string) ([]byte, error) {
	if s.preview == nil {
		return nil, ErrNoPreview
	}
	doc, ok := s.col.Get(id)
	if !ok || doc.Bytes() == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	img, err := s.preview.FirstPage(doc.Bytes())
	if err != nil {
		log.Warn().Err(err).Str("session", s.id).Str("file", doc.Name).Msg("preview failed")
		return nil, err
	}
	return img, nil
}
