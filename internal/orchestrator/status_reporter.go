package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/assembly"
	"github.com/local/pdfmerger/internal/progress"
	"github.com/local/pdfmerger/internal/store"
)

// statusReporter mirrors progress events into the status store. Page events
// are only written when the percentage moves, so a large merge costs at
// most about a hundred writes.
type statusReporter struct {
	ctx   context.Context
	store store.StatusStore
	id    string

	mu      sync.Mutex
	st      store.Status
	written bool
}

func newStatusReporter(ctx context.Context, s store.StatusStore, id string) *statusReporter {
	start := time.Now()
	return &statusReporter{
		ctx:   ctx,
		store: s,
		id:    id,
		st:    store.Status{Stage: string(progress.StageIdle), Start: &start},
	}
}

func (r *statusReporter) Report(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Warning {
		r.st.Warnings = append(r.st.Warnings, e.Message)
		r.flush()
		return
	}
	changed := !r.written || string(e.Stage) != r.st.Stage || e.Percent != r.st.Progress
	r.st.Stage = string(e.Stage)
	r.st.Progress = e.Percent
	r.st.Current = e.Current
	r.st.Total = e.Total
	r.st.Message = e.Message
	if changed {
		r.flush()
	}
}

// finish records the outcome of the run.
func (r *statusReporter) finish(res *assembly.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := time.Now()
	r.st.End = &end
	if err != nil {
		r.st.Stage = string(progress.StageFailed)
		r.st.Message = err.Error()
	} else if res != nil {
		r.st.Stage = string(progress.StageDone)
		r.st.Progress = 100
		r.st.Metadata = map[string]any{
			"result_id":   res.ID,
			"file_name":   res.FileName,
			"size_bytes":  res.SizeBytes,
			"page_count":  res.PageCount,
			"files_count": res.FilesCount,
			"strategy":    res.Strategy,
			"duration_ms": res.Duration.Milliseconds(),
		}
	}
	r.flush()
}

func (r *statusReporter) flush() {
	r.written = true
	if err := r.store.Set(r.ctx, r.id, r.st); err != nil {
		log.Warn().Err(err).Str("session", r.id).Msg("failed to store merge status")
	}
}
