// Package storage moves PDFs in and out of the merger: it fetches sources
// from local paths, HTTP and S3, and exports merged results to a results
// directory or an S3 bucket, optionally encrypted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/pdfmerger/internal/collection"
)

var (
	ErrTooLarge    = errors.New("source exceeds size limit")
	ErrUnsupported = errors.New("unsupported source reference")
	ErrNoS3        = errors.New("s3 is not configured")
	ErrForbidden   = errors.New("source reference not allowed")
)

// File is fetched content.
type File struct {
	Ref  string
	Name string
	Data []byte
}

// ObjectGetter is the part of S3Client the fetcher needs.
type ObjectGetter interface {
	Get(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, *ObjectInfo, error)
}

// Result is the outcome of fetching one reference. Name is set even when
// Err is.
type Result struct {
	File
	Err error
}

// Candidate offers the result to a collection. A failed fetch becomes a
// candidate that the collection rejects with collection.ErrFileTooLarge or
// collection.ErrDecodeFailure.
func (r Result) Candidate() collection.Candidate {
	if r.Err == nil {
		return collection.BytesCandidate(r.Name, r.Data)
	}
	reason := collection.ErrDecodeFailure
	if errors.Is(r.Err, ErrTooLarge) {
		reason = collection.ErrFileTooLarge
	}
	return collection.Candidate{Name: r.Name, Err: fmt.Errorf("%w: %w", reason, r.Err)}
}

// Fetcher resolves references of the form s3://bucket/key, http(s):// URLs,
// file://path and plain paths. A trailing #fragment is ignored. The zero
// value only reads S3: local paths need AllowLocal and URLs need AllowHTTP.
type Fetcher struct {
	HTTP *http.Client
	S3   ObjectGetter
	// AllowLocal permits file:// and plain path references.
	AllowLocal bool
	// AllowHTTP permits http(s) references. When Hosts is not empty only
	// those hosts are reachable; an entry with a leading dot matches every
	// subdomain.
	AllowHTTP bool
	Hosts     []string
	MaxBytes  int64
	// Password decrypts objects stored sealed; empty leaves them as is.
	Password string
	// Parallel bounds FetchAll; values below 1 mean 4.
	Parallel int
}

// Fetch loads one reference.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (File, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	var (
		file File
		err  error
	)
	switch {
	case strings.HasPrefix(ref, "s3://"):
		file, err = f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		file, err = f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		file, err = f.fetchLocal(strings.TrimPrefix(ref, "file://"))
	case strings.Contains(ref, "://"):
		err = fmt.Errorf("%w: %s", ErrUnsupported, ref)
	default:
		file, err = f.fetchLocal(ref)
	}
	if errors.Is(err, ErrForbidden) {
		log.Warn().Str("ref", ref).Msg("refused source reference")
	}
	if err != nil {
		return File{}, err
	}
	file.Ref = ref
	if f.Password != "" && IsSealed(file.Data) {
		plain, err := Open(file.Data, f.Password)
		if err != nil {
			return File{}, fmt.Errorf("%s: %w", ref, err)
		}
		file.Data = plain
	}
	return file, nil
}

// FetchAll loads refs concurrently and returns one result per ref in input
// order. A failed ref does not stop the others.
func (f *Fetcher) FetchAll(ctx context.Context, refs []string) []Result {
	out := make([]Result, len(refs))
	var g errgroup.Group
	limit := f.Parallel
	if limit < 1 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, ref := range refs {
		g.Go(func() error {
			file, err := f.Fetch(ctx, ref)
			if err != nil {
				log.Warn().Err(err).Str("ref", ref).Msg("fetch failed")
				file = File{Ref: ref, Name: refName(ref)}
			}
			out[i] = Result{File: file, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// refName is the display name of a reference that could not be fetched.
func refName(ref string) string {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	if strings.Contains(ref, "://") {
		return urlName(ref)
	}
	return filepath.Base(ref)
}

func (f *Fetcher) fetchLocal(p string) (File, error) {
	if !f.AllowLocal {
		return File{}, fmt.Errorf("%w: local path %s", ErrForbidden, p)
	}
	fh, err := os.Open(p)
	if err != nil {
		return File{}, err
	}
	defer fh.Close()
	data, err := f.readAll(fh, p)
	if err != nil {
		return File{}, err
	}
	return File{Name: filepath.Base(p), Data: data}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return File{}, err
	}
	if err := f.checkURL(req.URL); err != nil {
		return File{}, err
	}
	cli := http.Client{}
	if f.HTTP != nil {
		cli = *f.HTTP
	}
	cli.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return f.checkURL(next.URL)
	}
	resp, err := cli.Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return File{}, fmt.Errorf("GET %s: http %d", rawURL, resp.StatusCode)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return File{}, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, rawURL, resp.ContentLength)
	}
	data, err := f.readAll(resp.Body, rawURL)
	if err != nil {
		return File{}, err
	}
	log.Info().Str("url", rawURL).Int("size", len(data)).Msg("downloaded source over http")
	return File{Name: urlName(rawURL), Data: data}, nil
}

// checkURL applies the http policy to the first request and every redirect.
func (f *Fetcher) checkURL(u *url.URL) error {
	if !f.AllowHTTP {
		return fmt.Errorf("%w: %s", ErrForbidden, u.Redacted())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrUnsupported, u.Redacted())
	}
	if len(f.Hosts) == 0 {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range f.Hosts {
		h = strings.ToLower(h)
		if host == h || (strings.HasPrefix(h, ".") && strings.HasSuffix(host, h)) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %s", ErrForbidden, host)
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) (File, error) {
	if f.S3 == nil {
		return File{}, ErrNoS3
	}
	p := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return File{}, fmt.Errorf("%w: invalid s3 url %s", ErrUnsupported, ref)
	}
	bucket, key := p[:slash], p[slash+1:]
	data, info, err := f.S3.Get(ctx, bucket, key, f.MaxBytes)
	if err != nil {
		return File{}, err
	}
	name := path.Base(key)
	if info != nil && info.Name != "" {
		name = info.Name
	}
	return File{Name: name, Data: data}, nil
}

func (f *Fetcher) readAll(r io.Reader, what string) ([]byte, error) {
	if f.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, what, f.MaxBytes)
	}
	return data, nil
}

func urlName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download.pdf"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "download.pdf"
	}
	return name
}
