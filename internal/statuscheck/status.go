// Package statuscheck reports the readiness of the merger's dependencies.
package statuscheck

import (
	"context"
	"errors"
	"time"
)

// Pinger models anything that can answer a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker aggregates health checks for external dependencies.
type Checker struct {
	redis   Pinger
	s3      Pinger
	mupdf   Pinger
	timeout time.Duration
}

// Options configures the Checker. Nil members are reported as not configured.
type Options struct {
	Redis   Pinger
	S3      Pinger
	MuPDF   Pinger
	Timeout time.Duration
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis Status `json:"redis"`
	S3    Status `json:"s3"`
	MuPDF Status `json:"mupdf"`
}

// Healthy is true when every configured subsystem answered.
func (s Summary) Healthy() bool {
	for _, st := range []Status{s.Redis, s.S3, s.MuPDF} {
		if !st.OK && st.Message != notConfigured {
			return false
		}
	}
	return true
}

const notConfigured = "Not configured"

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	return &Checker{redis: opts.Redis, s3: opts.S3, mupdf: opts.MuPDF, timeout: opts.Timeout}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis: c.check(ctx, c.redis, "Connected"),
		S3:    c.check(ctx, c.s3, "Connected"),
		MuPDF: c.check(ctx, c.mupdf, "Available"),
	}
}

func (c *Checker) check(ctx context.Context, p Pinger, okMsg string) Status {
	if p == nil {
		return Status{OK: false, Message: notConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: okMsg}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
