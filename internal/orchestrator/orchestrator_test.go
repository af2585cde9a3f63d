package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfmerger/internal/codec/codectest"
	"github.com/local/pdfmerger/internal/merger"
	"github.com/local/pdfmerger/internal/storage"
	"github.com/local/pdfmerger/internal/store"
)

type stubPreview struct{}

func (stubPreview) FirstPage([]byte) ([]byte, error) { return []byte{0xff, 0xd8, 0xff}, nil }

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	codec  *codectest.Codec
	status *store.MemoryStatus
}

func newHarness(t *testing.T, exportDir string, opts ...func(*Dependencies)) *harness {
	t.Helper()
	fc := &codectest.Codec{}
	reg := merger.NewRegistry(func() *merger.Session {
		return merger.New(merger.Config{Codec: fc, Previewer: stubPreview{}})
	}, time.Hour)
	status := store.NewMemoryStatus(time.Hour)
	fetcher := &storage.Fetcher{AllowHTTP: true, Hosts: []string{"127.0.0.1"}}
	deps := Dependencies{Sessions: reg, Status: status, Fetcher: fetcher}
	if exportDir != "" {
		deps.Exporter = storage.LocalExporter{Dir: exportDir}
	}
	for _, opt := range opts {
		opt(&deps)
	}
	mux := http.NewServeMux()
	New(deps).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, codec: fc, status: status}
}

func (h *harness) do(method, path string, body io.Reader, contentType string) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, body)
	require.NoError(h.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) json(method, path string, in any, out any) int {
	h.t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(h.t, err)
		body = bytes.NewReader(b)
	}
	resp := h.do(method, path, body, "application/json")
	if out != nil {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *harness) session() string {
	h.t.Helper()
	var s sessionResp
	require.Equal(h.t, http.StatusCreated, h.json(http.MethodPost, "/sessions", nil, &s))
	require.NotEmpty(h.t, s.ID)
	return s.ID
}

type upload struct {
	name  string
	pages int
}

func (h *harness) upload(id string, files ...upload) (int, addResp) {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name+".pdf")
		require.NoError(h.t, err)
		_, err = part.Write(codectest.Encode(f.name, f.pages))
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())
	resp := h.do(http.MethodPost, "/sessions/"+id+"/files", &buf, mw.FormDataContentType())
	var out addResp
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func names(s sessionResp) []string {
	var out []string
	for _, f := range s.Files {
		out = append(out, f.Name)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, t.TempDir())
	id := h.session()

	code, added := h.upload(id, upload{"B", 2}, upload{"A", 3}, upload{"B", 2})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, added.Outcomes, 3)
	assert.Empty(t, added.Outcomes[0].Error)
	assert.Contains(t, added.Outcomes[2].Error, "already added")
	assert.Equal(t, []string{"B.pdf", "A.pdf"}, names(added.Session))
	assert.Equal(t, 5, added.Session.Stats.TotalPages)

	var s sessionResp
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/sort?by=name", nil, &s))
	assert.Equal(t, []string{"A.pdf", "B.pdf"}, names(s))
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/reorder", reorderReq{From: 1, To: 0}, &s))
	assert.Equal(t, []string{"B.pdf", "A.pdf"}, names(s))
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/reverse", nil, &s))
	assert.Equal(t, []string{"A.pdf", "B.pdf"}, names(s))
	assert.Equal(t, http.StatusBadRequest, h.json(http.MethodPost, "/sessions/"+id+"/sort?by=color", nil, nil))

	var res resultResp
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/merge", mergeReq{Strategy: "alternating"}, &res))
	assert.Equal(t, 5, res.PageCount)
	assert.Equal(t, "/sessions/"+id+"/result", res.DownloadURL)

	resp := h.do(http.MethodGet, "/sessions/"+id+"/result", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), res.FileName)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, []string{"A0", "B0", "A1", "B1", "A2"}, codectest.Order(body))

	var prog map[string]any
	require.Equal(t, http.StatusOK, h.json(http.MethodGet, "/sessions/"+id+"/progress", nil, &prog))
	assert.Equal(t, "done", prog["stage"])
	assert.Equal(t, float64(100), prog["progress"])
	assert.Equal(t, res.FileName, prog["metadata"].(map[string]any)["file_name"])

	var exp map[string]string
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/result/export", nil, &exp))
	_, err := os.Stat(exp["location"])
	assert.NoError(t, err)

	resp = h.do(http.MethodDelete, "/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, "/sessions/"+id+"/stats", nil, nil))
}

func TestMerge_Rejections(t *testing.T) {
	h := newHarness(t, "")
	id := h.session()

	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, "/sessions/"+id+"/result", nil, nil))
	_, _ = h.upload(id, upload{"A", 1})
	assert.Equal(t, http.StatusUnprocessableEntity, h.json(http.MethodPost, "/sessions/"+id+"/merge", mergeReq{}, nil))
	assert.Equal(t, http.StatusBadRequest, h.json(http.MethodPost, "/sessions/"+id+"/merge", mergeReq{Strategy: "zipper"}, nil))

	_, _ = h.upload(id, upload{"B", 1})
	assert.Equal(t, http.StatusUnprocessableEntity,
		h.json(http.MethodPost, "/sessions/"+id+"/merge", mergeReq{PageRange: "custom", CustomRange: "abc"}, nil))
	assert.Equal(t, http.StatusNotImplemented, h.json(http.MethodPost, "/sessions/"+id+"/result/export", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, "/sessions/nope/stats", nil, nil))
}

func TestMerge_AsyncAndBusy(t *testing.T) {
	h := newHarness(t, "")
	id := h.session()
	_, _ = h.upload(id, upload{"A", 2}, upload{"B", 2})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.codec.CopyHook = func(*codectest.Doc, int) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	var accepted map[string]string
	require.Equal(t, http.StatusAccepted, h.json(http.MethodPost, "/sessions/"+id+"/merge", mergeReq{Async: true}, &accepted))
	assert.Equal(t, "/sessions/"+id+"/progress", accepted["progress_url"])
	<-entered

	assert.Equal(t, http.StatusConflict, h.json(http.MethodPost, "/sessions/"+id+"/merge", mergeReq{}, nil))
	assert.Equal(t, http.StatusConflict, h.json(http.MethodPost, "/sessions/"+id+"/reverse", nil, nil))
	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/sessions/"+id, nil, "").StatusCode)
	assert.Equal(t, http.StatusOK, h.json(http.MethodGet, "/sessions/"+id+"/stats", nil, nil), "a refused delete keeps the session")

	var prog map[string]any
	h.json(http.MethodGet, "/sessions/"+id+"/progress", nil, &prog)
	assert.Equal(t, true, prog["busy"])
	assert.Equal(t, "copying_pages", prog["stage"])

	close(release)
	require.Eventually(t, func() bool {
		var p map[string]any
		h.json(http.MethodGet, "/sessions/"+id+"/progress", nil, &p)
		return p["stage"] == "done" && p["busy"] == false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/sessions/"+id+"/result", nil, "").StatusCode)
}

func sourceServer(t *testing.T, docs map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAndPreview(t *testing.T) {
	h := newHarness(t, "")
	id := h.session()
	src := sourceServer(t, map[string][]byte{
		"/x.pdf": codectest.Encode("x", 1),
		"/y.pdf": codectest.Encode("y", 1),
	})

	var added addResp
	refs := []string{src.URL + "/x.pdf", src.URL + "/y.pdf"}
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/files/fetch", fetchReq{Refs: refs}, &added))
	assert.Equal(t, []string{"x.pdf", "y.pdf"}, names(added.Session))

	fileID := added.Session.Files[0].ID
	resp := h.do(http.MethodGet, fmt.Sprintf("/sessions/%s/files/%s/preview", id, fileID), nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	var s sessionResp
	require.Equal(t, http.StatusOK, h.json(http.MethodDelete, fmt.Sprintf("/sessions/%s/files/%s", id, fileID), nil, &s))
	assert.Equal(t, []string{"y.pdf"}, names(s))
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodDelete, fmt.Sprintf("/sessions/%s/files/%s", id, fileID), nil, nil))
}

func TestFetch_PartialFailure(t *testing.T) {
	h := newHarness(t, "")
	id := h.session()
	src := sourceServer(t, map[string][]byte{"/good.pdf": codectest.Encode("good", 2)})

	var added addResp
	refs := []string{src.URL + "/good.pdf", src.URL + "/missing.pdf"}
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/files/fetch", fetchReq{Refs: refs}, &added))
	require.Len(t, added.Outcomes, 2)
	assert.Empty(t, added.Outcomes[0].Error)
	assert.Equal(t, "missing.pdf", added.Outcomes[1].Name)
	assert.Contains(t, added.Outcomes[1].Error, "could not be decoded")
	assert.Contains(t, added.Outcomes[1].Error, "404")
	assert.Equal(t, []string{"good.pdf"}, names(added.Session))
}

func TestFetch_RefusesLocalAndUnlistedSources(t *testing.T) {
	h := newHarness(t, "")
	id := h.session()
	p := filepath.Join(t.TempDir(), "secret.pdf")
	require.NoError(t, os.WriteFile(p, codectest.Encode("secret", 1), 0o644))

	var added addResp
	refs := []string{p, "file://" + p, "http://169.254.169.254/latest/meta-data", "ftp://a/b.pdf"}
	require.Equal(t, http.StatusOK, h.json(http.MethodPost, "/sessions/"+id+"/files/fetch", fetchReq{Refs: refs}, &added))
	require.Len(t, added.Outcomes, 4)
	for i, oc := range added.Outcomes[:3] {
		assert.Contains(t, oc.Error, "not allowed", refs[i])
	}
	assert.Contains(t, added.Outcomes[3].Error, "unsupported")
	assert.Empty(t, added.Session.Files)
}

func TestUpload_BodyLimit(t *testing.T) {
	h := newHarness(t, "", func(d *Dependencies) { d.UploadMaxBytes = 1024 })
	id := h.session()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "big.pdf")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := h.do(http.MethodPost, "/sessions/"+id+"/files", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	code, added := h.upload(id, upload{"A", 1})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"A.pdf"}, names(added.Session))
}
