package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/extract"
	"pdfchat/pkg/queue"
	"pdfchat/pkg/rag"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/pkg/vectorstore"
	"pdfchat/services/ingest/internal/app"
)

type stubModel struct{ out string }

func (m stubModel) Invoke(context.Context, []ai.Message, ai.InvokeOptions) (string, error) {
	return m.out, nil
}

type fixture struct {
	srv  *httptest.Server
	app  *app.App
	mem  *store.MemoryStore
	jobs *queue.RedisJobQueue
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	files, err := storage.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	chunker, err := rag.NewChunker()
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}
	registry, err := ai.NewRegistry(nil, "")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	model := stubModel{out: `{"title":"Notes","questions":["q1","q2","q3","q4","q5"]}`}
	pipeline := rag.NewPipeline(files, extract.New(extract.WithPdftotext(false)), chunker,
		vectorstore.New(ai.NewHashEmbedder(256), mem), rag.WithQuestionModel(model, registry))

	redisSrv := miniredis.RunT(t)
	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Addr: redisSrv.Addr(), Stream: "test:reindex"})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	t.Cleanup(func() { _ = jobs.Close() })

	core, err := app.New(app.Config{Pipeline: pipeline, Documents: mem, Files: files, Jobs: jobs})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: core, MaxUploadBytes: 1 << 20}).Router())
	t.Cleanup(srv.Close)
	return fixture{srv: srv, app: core, mem: mem, jobs: jobs}
}

func (f fixture) do(t *testing.T, method, path, owner string, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if owner != "" {
		req.Header.Set(util.OwnerKeyHeader, owner)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f fixture) upload(t *testing.T, owner, name, content string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	return f.do(t, http.MethodPost, "/documents", owner, &buf, mw.FormDataContentType())
}

func TestUploadListDelete(t *testing.T) {
	f := newFixture(t)

	resp := f.upload(t, "alice", "notes.txt", "Introduction.\n\nThe method is simple.", map[string]string{"generateQuestions": "false"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var doc domain.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.Status != domain.StatusReady || doc.PassageCount != 1 || doc.FileName != "notes.txt" {
		t.Fatalf("unexpected document: %+v", doc)
	}

	resp = f.do(t, http.MethodGet, "/documents", "alice", nil, "")
	var list struct {
		Items []domain.Document `json:"items"`
		Count int               `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}

	resp = f.do(t, http.MethodGet, "/documents", "bob", nil, "")
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 0 {
		t.Fatalf("other owner count = %d, want 0", list.Count)
	}

	if resp := f.do(t, http.MethodDelete, "/documents?fileName=notes.txt", "alice", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	if got := f.mem.Passages("alice", "notes.txt"); len(got) != 0 {
		t.Fatalf("passages left after delete: %d", len(got))
	}
	if resp := f.do(t, http.MethodDelete, "/documents?fileName=notes.txt", "alice", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadWithQuestions(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, "alice", "notes.txt", "Results are good.", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var doc domain.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.Title != "Notes" || len(doc.Questions) != 5 {
		t.Fatalf("unexpected questions: %+v", doc)
	}
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)

	if resp := f.upload(t, "", "notes.txt", "text", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing owner status = %d, want 401", resp.StatusCode)
	}
	if resp := f.upload(t, "alice", "tool.exe", "MZ", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad extension status = %d, want 400", resp.StatusCode)
	}
	if resp := f.upload(t, "alice", "blank.txt", " \n\n ", map[string]string{"generateQuestions": "false"}); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blank document status = %d, want 422", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPut, "/documents", "alice", nil, ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT status = %d, want 405", resp.StatusCode)
	}
}

func TestReindexJobLifecycle(t *testing.T) {
	f := newFixture(t)
	if resp := f.upload(t, "alice", "notes.txt", "Summary of findings.", map[string]string{"generateQuestions": "false"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	resp := f.do(t, http.MethodPost, "/documents/reindex", "alice", bytes.NewBufferString(`{"fileName":"notes.txt"}`), "application/json")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("reindex status = %d, want 202", resp.StatusCode)
	}
	var job queue.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != queue.StatusQueued || job.FileName != "notes.txt" {
		t.Fatalf("unexpected job: %+v", job)
	}

	if resp := f.do(t, http.MethodGet, "/jobs/"+job.ID, "alice", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("job status = %d, want 200", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/jobs/"+job.ID, "mallory", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign job status = %d, want 404", resp.StatusCode)
	}

	if err := f.app.HandleReindex(context.Background(), job); err != nil {
		t.Fatalf("handle reindex: %v", err)
	}
	if got := f.mem.Passages("alice", "notes.txt"); len(got) != 1 {
		t.Fatalf("passages after reindex = %d, want 1", len(got))
	}

	resp = f.do(t, http.MethodPost, "/documents/reindex", "alice", bytes.NewBufferString(`{"fileName":"missing.pdf"}`), "application/json")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("reindex missing status = %d, want 404", resp.StatusCode)
	}
}
