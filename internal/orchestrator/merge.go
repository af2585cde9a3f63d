package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/assembly"
	"github.com/local/pdfmerger/internal/merge"
	"github.com/local/pdfmerger/internal/merger"
	"github.com/local/pdfmerger/internal/pagerange"
	"github.com/local/pdfmerger/internal/progress"
	"github.com/local/pdfmerger/internal/store"
)

type mergeReq struct {
	Strategy         string `json:"strategy"`
	PageRange        string `json:"page_range"`
	CustomRange      string `json:"custom_range"`
	PreserveMetadata bool   `json:"preserve_metadata"`
	AddPageNumbers   bool   `json:"add_page_numbers"`
	OptimizeSize     bool   `json:"optimize_size"`
	AddBookmarks     bool   `json:"add_bookmarks"`
	// Async returns 202 at once; the outcome is polled from /progress.
	Async bool `json:"async"`
}

func (m mergeReq) options() (assembly.Options, error) {
	strategy, err := merge.ParseStrategy(m.Strategy)
	if err != nil {
		return assembly.Options{}, err
	}
	mode, err := pagerange.ParseMode(m.PageRange)
	if err != nil {
		return assembly.Options{}, err
	}
	return assembly.Options{
		Strategy:         strategy,
		Range:            pagerange.Spec{Mode: mode, Expr: m.CustomRange},
		PreserveMetadata: m.PreserveMetadata,
		AddPageNumbers:   m.AddPageNumbers,
		OptimizeSize:     m.OptimizeSize,
		AddBookmarks:     m.AddBookmarks,
	}, nil
}

type resultResp struct {
	*assembly.Result
	DownloadURL string `json:"download_url"`
}

func (o *Orchestrator) handleMerge(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	var req mergeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.Busy() {
		writeMergeError(w, assembly.ErrAlreadyMerging)
		return
	}

	if req.Async {
		if len(s.Files()) < assembly.MinFiles {
			writeMergeError(w, fmt.Errorf("%w: have %d", assembly.ErrInsufficientFiles, len(s.Files())))
			return
		}
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := o.runMerge(ctx, s, opts); err != nil {
				log.Warn().Err(err).Str("session", s.ID()).Msg("async merge failed")
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{
			"session":      s.ID(),
			"progress_url": fmt.Sprintf("/sessions/%s/progress", s.ID()),
		})
		return
	}

	res, err := o.runMerge(r.Context(), s, opts)
	if err != nil {
		writeMergeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResp{Result: res, DownloadURL: fmt.Sprintf("/sessions/%s/result", s.ID())})
}

// runMerge merges and mirrors progress into the status store.
func (o *Orchestrator) runMerge(ctx context.Context, s *merger.Session, opts assembly.Options) (*assembly.Result, error) {
	rep := newStatusReporter(ctx, o.deps.Status, s.ID())
	res, err := s.Merge(ctx, opts, rep)
	if errors.Is(err, assembly.ErrAlreadyMerging) || errors.Is(err, assembly.ErrInsufficientFiles) {
		// rejected before starting; the status of a running merge stays intact
		return nil, err
	}
	rep.finish(res, err)
	return res, err
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	st, ok, err := o.deps.Status.Get(r.Context(), s.ID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	if !ok {
		st = store.Status{Stage: string(progress.StageIdle), Total: 1}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    s.ID(),
		"busy":       s.Busy(),
		"success":    st.Stage == string(progress.StageDone),
		"stage":      st.Stage,
		"progress":   st.Progress,
		"current":    st.Current,
		"total":      st.Total,
		"message":    st.Message,
		"warnings":   st.Warnings,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}

// handleResult serves the merged PDF as a download.
func (o *Orchestrator) handleResult(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	res, err := s.Result()
	if err != nil {
		writeMergeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Bytes)))
	_, _ = w.Write(res.Bytes)
}

func (o *Orchestrator) handleExport(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	if o.deps.Exporter == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured")
		return
	}
	res, err := s.Result()
	if err != nil {
		writeMergeError(w, err)
		return
	}
	loc, err := o.deps.Exporter.Export(r.Context(), res.FileName, res.Bytes)
	if err != nil {
		log.Error().Err(err).Str("session", s.ID()).Str("file", res.FileName).Msg("export failed")
		writeError(w, http.StatusBadGateway, "export failed")
		return
	}
	if st, ok, err := o.deps.Status.Get(r.Context(), s.ID()); err == nil && ok {
		if st.Metadata == nil {
			st.Metadata = map[string]any{}
		}
		st.Metadata["result_location"] = loc
		_ = o.deps.Status.Set(r.Context(), s.ID(), st)
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": loc, "file_name": res.FileName, "exported_at": time.Now().UTC().Format(time.RFC3339)})
}
