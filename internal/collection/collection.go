// Package collection owns the ordered queue of source documents that a merge
// reads from, and keeps aggregate statistics in step with every mutation.
package collection

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/codec"
	"github.com/local/pdfmerger/internal/filetype"
	"github.com/local/pdfmerger/internal/metrics"
	"github.com/local/pdfmerger/internal/progress"
)

// DefaultMaxFileSize is the per-file cap (100 MiB).
const DefaultMaxFileSize int64 = 100 << 20

var (
	ErrFileTooLarge  = errors.New("file too large")
	ErrDuplicateFile = errors.New("file already added")
	ErrDecodeFailure = errors.New("file could not be decoded")
)

// Candidate is a file offered to Add. Open is only called once the size and
// duplicate checks pass. A candidate with Err set is rejected with that
// error, wrapped in ErrDecodeFailure unless it already carries one of this
// package's reasons.
type Candidate struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
	Err  error
}

// BytesCandidate wraps an in-memory file.
func BytesCandidate(name string, data []byte) Candidate {
	return Candidate{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// FileCandidate stats path and opens it lazily.
func FileCandidate(path string) (Candidate, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Name: filepath.Base(path),
		Size: fi.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Document is one accepted source. Its handle belongs to the collection and
// is closed when the document leaves the queue.
type Document struct {
	ID        string
	Name      string
	SizeBytes int64
	PageCount int
	AddedAt   time.Time

	handle codec.Handle
	data   []byte
}

// Bytes returns the original file content, nil once the document was released.
func (d *Document) Bytes() []byte { return d.data }

// Handle returns the decoded document.
func (d *Document) Handle() codec.Handle { return d.handle }

func (d *Document) key() dedupKey { return dedupKey{d.Name, d.SizeBytes} }

type dedupKey struct {
	name string
	size int64
}

// Outcome reports what happened to one candidate. Err is nil on success and
// otherwise wraps ErrFileTooLarge, ErrDuplicateFile or ErrDecodeFailure.
type Outcome struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	ID        string `json:"id,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
	Err       error  `json:"-"`
}

// Stats summarises the queue.
type Stats struct {
	FilesCount               int   `json:"files_count"`
	TotalPages               int   `json:"total_pages"`
	TotalSizeBytes           int64 `json:"total_size_bytes"`
	EstimatedOutputSizeBytes int64 `json:"estimated_output_size_bytes"`
}

// Option configures a Collection.
type Option func(*Collection)

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(c *Collection) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithIDGenerator replaces the uuid based id source.
func WithIDGenerator(f func() string) Option {
	return func(c *Collection) { c.newID = f }
}

// Collection is safe for concurrent use; callers are still expected not to
// mutate it while a merge reads a snapshot of it.
type Collection struct {
	mu       sync.RWMutex
	codec    codec.Codec
	detector *filetype.Detector
	maxSize  int64
	newID    func() string
	now      func() time.Time

	docs     []*Document
	optimize bool
	stats    Stats
}

// New returns an empty collection decoding with c.
func New(c codec.Codec, opts ...Option) *Collection {
	col := &Collection{
		codec:    c,
		detector: filetype.New(),
		maxSize:  DefaultMaxFileSize,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, o := range opts {
		o(col)
	}
	return col
}

// MaxFileSize returns the per-file cap in bytes.
func (c *Collection) MaxFileSize() int64 { return c.maxSize }

// Add processes candidates in order. A rejected or undecodable candidate does
// not stop the rest of the batch.
func (c *Collection) Add(cands ...Candidate) []Outcome {
	out := make([]Outcome, 0, len(cands))
	for _, cand := range cands {
		o := c.addOne(cand)
		if o.Err != nil {
			log.Warn().Err(o.Err).Str("file", cand.Name).Int64("size", cand.Size).Msg("file rejected")
			metrics.IncRejected(rejectReason(o.Err))
		} else {
			log.Info().Str("file", o.Name).Str("id", o.ID).Int("pages", o.PageCount).Msg("file added")
		}
		out = append(out, o)
	}
	return out
}

func (c *Collection) addOne(cand Candidate) Outcome {
	o := Outcome{Name: cand.Name, Size: cand.Size}
	if cand.Err != nil {
		o.Err = cand.Err
		if !errors.Is(o.Err, ErrFileTooLarge) && !errors.Is(o.Err, ErrDuplicateFile) && !errors.Is(o.Err, ErrDecodeFailure) {
			o.Err = fmt.Errorf("%w: %s: %w", ErrDecodeFailure, cand.Name, cand.Err)
		}
		return o
	}
	if cand.Size > c.maxSize {
		o.Err = fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFileTooLarge, cand.Name, cand.Size, c.maxSize)
		return o
	}
	if c.contains(dedupKey{cand.Name, cand.Size}) {
		o.Err = fmt.Errorf("%w: %s", ErrDuplicateFile, cand.Name)
		return o
	}
	if cand.Open == nil {
		o.Err = fmt.Errorf("%w: %s has no content", ErrDecodeFailure, cand.Name)
		return o
	}

	data, err := c.read(cand)
	if err != nil {
		o.Err = err
		return o
	}
	if info := c.detector.Detect(cand.Name, data); !info.Mergeable {
		o.Err = fmt.Errorf("%w: %s: %s", ErrDecodeFailure, cand.Name, info.Description)
		return o
	}
	h, err := c.codec.Load(data)
	if err != nil {
		o.Err = fmt.Errorf("%w: %s: %v", ErrDecodeFailure, cand.Name, err)
		return o
	}

	doc := &Document{
		ID:        c.newID(),
		Name:      cand.Name,
		SizeBytes: cand.Size,
		PageCount: h.PageCount(),
		AddedAt:   c.now(),
		handle:    h,
		data:      data,
	}
	if doc.PageCount < 0 {
		doc.PageCount = 0
	}

	c.mu.Lock()
	// a concurrent Add may have taken the key while we were decoding
	if c.containsLocked(doc.key()) {
		c.mu.Unlock()
		_ = h.Close()
		o.Err = fmt.Errorf("%w: %s", ErrDuplicateFile, cand.Name)
		return o
	}
	c.docs = append(c.docs, doc)
	c.recomputeLocked()
	c.mu.Unlock()

	o.ID = doc.ID
	o.PageCount = doc.PageCount
	return o
}

// read loads the candidate, refusing to buffer more than the cap even if the declared size lied.
func (c *Collection) read(cand Candidate) ([]byte, error) {
	rc, err := cand.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, cand.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, cand.Name, err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, cand.Name, c.maxSize)
	}
	return data, nil
}

func (c *Collection) contains(k dedupKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.containsLocked(k)
}

func (c *Collection) containsLocked(k dedupKey) bool {
	for _, d := range c.docs {
		if d.key() == k {
			return true
		}
	}
	return false
}

// Remove drops the document with id. It reports whether anything was removed.
func (c *Collection) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.docs {
		if d.ID != id {
			continue
		}
		c.docs = append(c.docs[:i], c.docs[i+1:]...)
		release(d)
		c.recomputeLocked()
		log.Info().Str("file", d.Name).Str("id", id).Msg("file removed")
		return true
	}
	return false
}

// Reorder moves the document at oldIndex to newIndex, shifting the others.
// Out of range indices make it a no-op that returns false.
func (c *Collection) Reorder(oldIndex, newIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.docs)
	if oldIndex < 0 || oldIndex >= n || newIndex < 0 || newIndex >= n {
		return false
	}
	if oldIndex != newIndex {
		moved := c.docs[oldIndex]
		c.docs = append(c.docs[:oldIndex], c.docs[oldIndex+1:]...)
		c.docs = append(c.docs[:newIndex], append([]*Document{moved}, c.docs[newIndex:]...)...)
	}
	c.recomputeLocked()
	log.Info().Int("from", oldIndex).Int("to", newIndex).Msg("file order updated")
	return true
}

// Reverse flips the queue order.
func (c *Collection) Reverse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, j := 0, len(c.docs)-1; i < j; i, j = i+1, j-1 {
		c.docs[i], c.docs[j] = c.docs[j], c.docs[i]
	}
	c.recomputeLocked()
	log.Info().Msg("file order reversed")
}

// SortByName orders by name, case-insensitively; equal names keep their relative order.
func (c *Collection) SortByName() {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.docs, func(i, j int) bool {
		return strings.ToLower(c.docs[i].Name) < strings.ToLower(c.docs[j].Name)
	})
	c.recomputeLocked()
	log.Info().Msg("files sorted by name")
}

// SortBySize orders by size ascending; equal sizes keep their relative order.
func (c *Collection) SortBySize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.docs, func(i, j int) bool {
		return c.docs[i].SizeBytes < c.docs[j].SizeBytes
	})
	c.recomputeLocked()
	log.Info().Msg("files sorted by size")
}

// RemoveDuplicates keeps the first document of every (name, size) pair and
// returns how many were dropped.
func (c *Collection) RemoveDuplicates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[dedupKey]struct{}, len(c.docs))
	kept := c.docs[:0]
	dropped := 0
	for _, d := range c.docs {
		if _, ok := seen[d.key()]; ok {
			release(d)
			dropped++
			continue
		}
		seen[d.key()] = struct{}{}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(c.docs); i++ {
		c.docs[i] = nil
	}
	c.docs = kept
	c.recomputeLocked()
	log.Info().Int("dropped", dropped).Msg("duplicates removed")
	return dropped
}

// Clear empties the queue and closes every handle.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		release(d)
	}
	c.docs = nil
	c.recomputeLocked()
	log.Info().Msg("all files cleared")
}

// Documents returns a snapshot of the queue in merge order.
func (c *Collection) Documents() []*Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Document(nil), c.docs...)
}

// Get looks a document up by id.
func (c *Collection) Get(id string) (*Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.docs {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// Len is the number of queued documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// SetOptimize switches the size estimate between the optimised and plain ratios.
func (c *Collection) SetOptimize(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.optimize = on
	c.recomputeLocked()
}

// Stats returns the statistics computed after the last mutation.
func (c *Collection) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Collection) recomputeLocked() {
	c.stats = Aggregate(c.docs, c.optimize)
	metrics.SetQueue(c.stats.FilesCount, c.stats.TotalPages)
}

// Aggregate computes Stats for docs.
func Aggregate(docs []*Document, optimize bool) Stats {
	s := Stats{FilesCount: len(docs)}
	for _, d := range docs {
		s.TotalPages += d.PageCount
		s.TotalSizeBytes += d.SizeBytes
	}
	s.EstimatedOutputSizeBytes = progress.Estimate(s.TotalSizeBytes, optimize)
	return s
}

func release(d *Document) {
	if d.handle == nil {
		return
	}
	if err := d.handle.Close(); err != nil {
		log.Warn().Err(err).Str("id", d.ID).Msg("closing document handle")
	}
	d.handle = nil
	d.data = nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, ErrDuplicateFile):
		return "duplicate"
	default:
		return "decode"
	}
}
