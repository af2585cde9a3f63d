// Package orchestrator exposes merge sessions over HTTP.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/assembly"
	"github.com/local/pdfmerger/internal/collection"
	"github.com/local/pdfmerger/internal/merger"
	"github.com/local/pdfmerger/internal/storage"
	"github.com/local/pdfmerger/internal/store"
)

// Dependencies wires an Orchestrator. Fetcher and Exporter are optional;
// their routes answer 501 when unset.
type Dependencies struct {
	Sessions *merger.Registry
	Status   store.StatusStore
	Fetcher  *storage.Fetcher
	Exporter storage.Exporter
	// UploadMaxMemory is the multipart memory budget before spilling to disk.
	UploadMaxMemory int64
	// UploadMaxBytes caps a whole upload request body.
	UploadMaxBytes int64
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	if deps.UploadMaxMemory <= 0 {
		deps.UploadMaxMemory = 64 << 20
	}
	if deps.UploadMaxBytes <= 0 {
		deps.UploadMaxBytes = 50 * collection.DefaultMaxFileSize
	}
	return &Orchestrator{deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /sessions", o.handleCreateSession)
	mux.HandleFunc("DELETE /sessions/{id}", o.withSession(o.handleDeleteSession))
	mux.HandleFunc("GET /sessions/{id}/files", o.withSession(o.handleListFiles))
	mux.HandleFunc("POST /sessions/{id}/files", o.withSession(o.handleUpload))
	mux.HandleFunc("POST /sessions/{id}/files/fetch", o.withSession(o.handleFetch))
	mux.HandleFunc("DELETE /sessions/{id}/files/{fileID}", o.withSession(o.handleRemoveFile))
	mux.HandleFunc("GET /sessions/{id}/files/{fileID}/preview", o.withSession(o.handlePreview))
	mux.HandleFunc("POST /sessions/{id}/reorder", o.withSession(o.handleReorder))
	mux.HandleFunc("POST /sessions/{id}/sort", o.withSession(o.handleSort))
	mux.HandleFunc("POST /sessions/{id}/reverse", o.withSession(o.handleReverse))
	mux.HandleFunc("POST /sessions/{id}/dedup", o.withSession(o.handleDedup))
	mux.HandleFunc("POST /sessions/{id}/clear", o.withSession(o.handleClear))
	mux.HandleFunc("GET /sessions/{id}/stats", o.withSession(o.handleStats))
	mux.HandleFunc("POST /sessions/{id}/merge", o.withSession(o.handleMerge))
	mux.HandleFunc("GET /sessions/{id}/progress", o.withSession(o.handleProgress))
	mux.HandleFunc("GET /sessions/{id}/result", o.withSession(o.handleResult))
	mux.HandleFunc("POST /sessions/{id}/result/export", o.withSession(o.handleExport))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *merger.Session)

func (o *Orchestrator) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := o.deps.Sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h(w, r, s)
	}
}

type sessionResp struct {
	ID    string           `json:"id"`
	Files []fileResp       `json:"files"`
	Stats collection.Stats `json:"stats"`
}

type fileResp struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	PageCount int    `json:"page_count"`
}

func describe(s *merger.Session) sessionResp {
	docs := s.Files()
	files := make([]fileResp, 0, len(docs))
	for _, d := range docs {
		files = append(files, fileResp{ID: d.ID, Name: d.Name, SizeBytes: d.SizeBytes, PageCount: d.PageCount})
	}
	return sessionResp{ID: s.ID(), Files: files, Stats: s.Stats()}
}

func (o *Orchestrator) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s := o.deps.Sessions.Create()
	writeJSON(w, http.StatusCreated, describe(s))
}

func (o *Orchestrator) handleDeleteSession(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	if err := o.deps.Sessions.Delete(s.ID()); err != nil {
		writeMergeError(w, err)
		return
	}
	if err := o.deps.Status.Delete(r.Context(), s.ID()); err != nil {
		log.Warn().Err(err).Str("session", s.ID()).Msg("failed to delete merge status")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (o *Orchestrator) handleListFiles(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	writeJSON(w, http.StatusOK, describe(s))
}

type outcomeResp struct {
	collection.Outcome
	Error string `json:"error,omitempty"`
}

type addResp struct {
	Outcomes []outcomeResp `json:"outcomes"`
	Session  sessionResp   `json:"session"`
}

func (o *Orchestrator) respondAdded(w http.ResponseWriter, s *merger.Session, outcomes []collection.Outcome) {
	resp := addResp{Outcomes: make([]outcomeResp, 0, len(outcomes)), Session: describe(s)}
	for _, oc := range outcomes {
		or := outcomeResp{Outcome: oc}
		if oc.Err != nil {
			or.Error = oc.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, or)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload accepts multipart/form-data with one or more "files" parts.
func (o *Orchestrator) handleUpload(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, o.deps.UploadMaxBytes)
	if err := r.ParseMultipartForm(o.deps.UploadMaxMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "missing files")
		return
	}
	cands := make([]collection.Candidate, 0, len(headers))
	for _, h := range headers {
		cands = append(cands, collection.Candidate{
			Name: h.Filename,
			Size: h.Size,
			Open: func() (io.ReadCloser, error) { return h.Open() },
		})
	}
	outcomes, err := s.AddFiles(cands...)
	if err != nil {
		writeMergeError(w, err)
		return
	}
	o.respondAdded(w, s, outcomes)
}

type fetchReq struct {
	Refs []string `json:"refs"`
}

// handleFetch downloads files by reference and queues them in request order.
// A ref that cannot be fetched is reported in its outcome like any other
// rejected file.
func (o *Orchestrator) handleFetch(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	if o.deps.Fetcher == nil {
		writeError(w, http.StatusNotImplemented, "remote sources are not configured")
		return
	}
	var req fetchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Refs) == 0 {
		writeError(w, http.StatusBadRequest, "expected {\"refs\": [...]}")
		return
	}
	results := o.deps.Fetcher.FetchAll(r.Context(), req.Refs)
	cands := make([]collection.Candidate, 0, len(results))
	for _, res := range results {
		cands = append(cands, res.Candidate())
	}
	outcomes, err := s.AddFiles(cands...)
	if err != nil {
		writeMergeError(w, err)
		return
	}
	o.respondAdded(w, s, outcomes)
}

func (o *Orchestrator) handleRemoveFile(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	if err := s.RemoveFile(r.PathValue("fileID")); err != nil {
		writeMergeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(s))
}

func (o *Orchestrator) handlePreview(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	img, err := s.Preview(r.PathValue("fileID"))
	if err != nil {
		writeMergeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	_, _ = w.Write(img)
}

type reorderReq struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (o *Orchestrator) handleReorder(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	var req reorderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	o.mutate(w, s, func() error { return s.Reorder(req.From, req.To) })
}

func (o *Orchestrator) handleSort(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	switch by := r.URL.Query().Get("by"); by {
	case "", "name":
		o.mutate(w, s, s.SortByName)
	case "size":
		o.mutate(w, s, s.SortBySize)
	default:
		writeError(w, http.StatusBadRequest, "sort by must be name or size")
	}
}

func (o *Orchestrator) handleReverse(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	o.mutate(w, s, s.Reverse)
}

func (o *Orchestrator) handleDedup(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	n, err := s.RemoveDuplicates()
	if err != nil {
		writeMergeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n, "session": describe(s)})
}

func (o *Orchestrator) handleClear(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	o.mutate(w, s, s.Clear)
}

func (o *Orchestrator) handleStats(w http.ResponseWriter, r *http.Request, s *merger.Session) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (o *Orchestrator) mutate(w http.ResponseWriter, s *merger.Session, f func() error) {
	if err := f(); err != nil {
		writeMergeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(s))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeMergeError maps domain errors onto HTTP statuses.
func writeMergeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assembly.ErrAlreadyMerging):
		status = http.StatusConflict
	case errors.Is(err, assembly.ErrInsufficientFiles), errors.Is(err, assembly.ErrNoPagesSelected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, merger.ErrFileNotFound), errors.Is(err, merger.ErrNoResult),
		errors.Is(err, merger.ErrSessionNotFound), errors.Is(err, merger.ErrClosed):
		status = http.StatusNotFound
	case errors.Is(err, merger.ErrNoPreview):
		status = http.StatusNotImplemented
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err.Error())
}
