package statuscheck

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummary(t *testing.T) {
	c := New(Options{
		Redis: PingFunc(func(context.Context) error { return nil }),
		MuPDF: PingFunc(func(context.Context) error { return errors.New(strings.Repeat("x", 200)) }),
	})
	s := c.Summary(context.Background())
	assert.Equal(t, Status{OK: true, Message: "Connected"}, s.Redis)
	assert.Equal(t, Status{OK: false, Message: "Not configured"}, s.S3)
	assert.False(t, s.MuPDF.OK)
	assert.Len(t, s.MuPDF.Message, 120)
	assert.False(t, s.Healthy())
}

func TestSummary_Timeout(t *testing.T) {
	c := New(Options{
		Timeout: 10 * time.Millisecond,
		S3: PingFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	s := c.Summary(context.Background())
	assert.Equal(t, "timeout", s.S3.Message)
}

func TestHealthy_IgnoresUnconfigured(t *testing.T) {
	s := New(Options{}).Summary(context.Background())
	assert.True(t, s.Healthy())
}
