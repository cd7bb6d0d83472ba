package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/domain/entity"
	"github.com/memflow/memflow/internal/domain/repository"
	"github.com/memflow/memflow/internal/domain/service"
	"github.com/memflow/memflow/internal/infrastructure/config"
	"github.com/memflow/memflow/internal/infrastructure/llm"
	"github.com/memflow/memflow/internal/infrastructure/persistence"
	"github.com/memflow/memflow/internal/infrastructure/shortterm"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubGraph struct{}

func (stubGraph) QueryContext(ctx context.Context, workspace, query string) string { return "" }
func (stubGraph) IngestText(ctx context.Context, workspace, text string) error     { return nil }

type stubSummarizer struct{}

func (stubSummarizer) Complete(ctx context.Context, messages []entity.Turn, temperature float64, maxTokens int) (string, error) {
	return "a short summary", nil
}

type capturedPublish struct {
	jobType entity.JobType
	jobID   string
}

type stubPublisher struct {
	published []capturedPublish
}

func (p *stubPublisher) Publish(ctx context.Context, jobType entity.JobType, jobID string) error {
	p.published = append(p.published, capturedPublish{jobType: jobType, jobID: jobID})
	return nil
}

type gatewayFixture struct {
	engine    *gin.Engine
	sessions  *persistence.MemorySessionRepository
	messages  repository.MessageRepository
	publisher *stubPublisher
	docs      repository.DocumentRepository
	jobs      repository.JobRepository
}

func newGatewayFixture(t *testing.T, backendURL string) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	sessions := persistence.NewMemorySessionRepository()
	messages := persistence.NewMemoryMessageRepository()
	docs := persistence.NewMemoryDocumentRepository()
	jobs := persistence.NewMemoryJobRepository()
	buffer := shortterm.NewMemoryBuffer()

	router := llm.NewRouter([]config.ModelRoute{
		{Alias: "gpt-test", BackendURL: backendURL, BackendModel: "llama3"},
	}, logger)
	llmClient := llm.NewOllamaClient(logger)

	composer := service.NewComposer(sessions, buffer, stubEmbedder{}, stubGraph{}, 3, logger)
	promoter := service.NewPromoter(sessions, messages, buffer, stubSummarizer{}, stubEmbedder{}, stubGraph{}, 10, 20, logger)
	tasks := service.NewTaskQueue(16, logger)
	t.Cleanup(tasks.Close)

	publisher := &stubPublisher{}

	chat := NewChatHandler(router, llmClient, composer, promoter, buffer, sessions, messages, tasks, logger)
	model := NewModelHandler(router)
	session := NewSessionHandler(sessions, buffer, logger)
	document := NewDocumentHandler(docs, jobs, publisher, logger)
	job := NewJobHandler(jobs, logger)

	engine := gin.New()
	engine.POST("/v1/chat/completions", chat.ChatCompletions)
	engine.GET("/v1/models", model.ListModels)
	engine.GET("/v1/sessions", session.ListSessions)
	engine.DELETE("/v1/sessions/:id", session.DeleteSession)
	engine.POST("/v1/documents/ingest", document.IngestDocument)
	engine.POST("/v1/codebase/ingest", document.IngestCodebase)
	engine.GET("/v1/documents/:id/download", document.DownloadDocument)
	engine.GET("/v1/jobs/:id", job.GetJob)
	engine.GET("/v1/jobs", job.ListJobs)

	return &gatewayFixture{
		engine:    engine,
		sessions:  sessions,
		messages:  messages,
		publisher: publisher,
		docs:      docs,
		jobs:      jobs,
	}
}

func unaryBackend(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": content},
			"done":              true,
			"prompt_eval_count": 7,
			"eval_count":        3,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func streamBackend(t *testing.T, deltas []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, delta := range deltas {
			line, _ := json.Marshal(map[string]any{
				"message": map[string]string{"content": delta},
				"done":    false,
			})
			fmt.Fprintf(w, "%s\n", line)
		}
		fmt.Fprintln(w, `{"done":true,"prompt_eval_count":5,"eval_count":2}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletions(t *testing.T) {
	t.Run("unary returns assistant message with usage", func(t *testing.T) {
		backend := unaryBackend(t, "hello there")
		fx := newGatewayFixture(t, backend.URL)

		rec := doJSON(t, fx.engine, http.MethodPost, "/v1/chat/completions", map[string]any{
			"model":      "gpt-test",
			"session_id": "sess-1",
			"messages": []map[string]string{
				{"role": "user", "content": "hi"},
			},
		}, nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Session-Id"); got != "sess-1" {
			t.Errorf("expected session header sess-1, got %q", got)
		}

		var resp ChatCompletionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !strings.HasPrefix(resp.ID, "chatcmpl-") {
			t.Errorf("unexpected id %q", resp.ID)
		}
		if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello there" {
			t.Fatalf("unexpected choices: %+v", resp.Choices)
		}
		if resp.Choices[0].FinishReason != "stop" {
			t.Errorf("unexpected finish reason %q", resp.Choices[0].FinishReason)
		}
		if resp.Usage == nil || resp.Usage.TotalTokens != 10 {
			t.Errorf("unexpected usage: %+v", resp.Usage)
		}

		// user + assistant turns persisted
		count, err := fx.messages.Count(context.Background(), "sess-1")
		if err != nil {
			t.Fatalf("count messages: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 persisted messages, got %d", count)
		}
	})

	t.Run("unknown model rejected", func(t *testing.T) {
		backend := unaryBackend(t, "unused")
		fx := newGatewayFixture(t, backend.URL)

		rec := doJSON(t, fx.engine, http.MethodPost, "/v1/chat/completions", map[string]any{
			"model":    "no-such-model",
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		}, nil)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "invalid_request_error") {
			t.Errorf("expected invalid_request_error body, got %s", rec.Body.String())
		}
	})

	t.Run("empty messages rejected", func(t *testing.T) {
		backend := unaryBackend(t, "unused")
		fx := newGatewayFixture(t, backend.URL)

		rec := doJSON(t, fx.engine, http.MethodPost, "/v1/chat/completions", map[string]any{
			"model":    "gpt-test",
			"messages": []map[string]string{},
		}, nil)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("streaming emits role, deltas and done", func(t *testing.T) {
		backend := streamBackend(t, []string{"hel", "lo"})
		fx := newGatewayFixture(t, backend.URL)

		rec := doJSON(t, fx.engine, http.MethodPost, "/v1/chat/completions", map[string]any{
			"model":      "gpt-test",
			"session_id": "sess-2",
			"stream":     true,
			"messages":   []map[string]string{{"role": "user", "content": "hi"}},
		}, nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Session-Id"); got != "sess-2" {
			t.Errorf("expected session header sess-2, got %q", got)
		}

		body := rec.Body.String()
		if !strings.Contains(body, `"role":"assistant"`) {
			t.Error("missing role chunk")
		}
		if !strings.Contains(body, `"content":"hel"`) || !strings.Contains(body, `"content":"lo"`) {
			t.Errorf("missing content deltas:\n%s", body)
		}
		if !strings.Contains(body, `"finish_reason":"stop"`) {
			t.Error("missing finish chunk")
		}
		if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
			t.Errorf("missing terminal DONE:\n%s", body)
		}

		// streamed content persisted after the tail
		msgs, err := fx.messages.ListBySession(context.Background(), "sess-2")
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		var assistant string
		for _, m := range msgs {
			if m.Role == entity.RoleAssistant {
				assistant = m.Content
			}
		}
		if assistant != "hello" {
			t.Errorf("expected assembled assistant message, got %q", assistant)
		}
	})

	t.Run("failed stream aborts without terminator", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "backend down", http.StatusInternalServerError)
		}))
		t.Cleanup(backend.Close)
		fx := newGatewayFixture(t, backend.URL)

		rec := doJSON(t, fx.engine, http.MethodPost, "/v1/chat/completions", map[string]any{
			"model":      "gpt-test",
			"session_id": "sess-err",
			"stream":     true,
			"messages":   []map[string]string{{"role": "user", "content": "hi"}},
		}, nil)

		body := rec.Body.String()
		if strings.Contains(body, `"finish_reason":"stop"`) {
			t.Errorf("failed stream must not synthesize a clean finish:\n%s", body)
		}
		if strings.Contains(body, "data: [DONE]") {
			t.Errorf("failed stream must not emit [DONE]:\n%s", body)
		}

		// 失败的流不落库assistant消息
		msgs, err := fx.messages.ListBySession(context.Background(), "sess-err")
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		for _, m := range msgs {
			if m.Role == entity.RoleAssistant {
				t.Errorf("assistant turn persisted from failed stream: %q", m.Content)
			}
		}
	})

	t.Run("workspace derived from header", func(t *testing.T) {
		backend := unaryBackend(t, "ok")
		fx := newGatewayFixture(t, backend.URL)

		rec := doJSON(t, fx.engine, http.MethodPost, "/v1/chat/completions", map[string]any{
			"model":      "gpt-test",
			"session_id": "sess-3",
			"messages":   []map[string]string{{"role": "user", "content": "hi"}},
		}, map[string]string{"X-Workspace": "Team Alpha!"})

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		sess, err := fx.sessions.Get(context.Background(), "sess-3")
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if sess.Workspace != "Team-Alpha-" {
			t.Errorf("expected sanitized workspace, got %q", sess.Workspace)
		}
	})
}

func TestListModels(t *testing.T) {
	backend := unaryBackend(t, "unused")
	fx := newGatewayFixture(t, backend.URL)

	rec := doJSON(t, fx.engine, http.MethodGet, "/v1/models", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp ModelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Object != "list" || len(resp.Data) != 1 || resp.Data[0].ID != "gpt-test" {
		t.Errorf("unexpected models response: %+v", resp)
	}
}

func TestSessionEndpoints(t *testing.T) {
	backend := unaryBackend(t, "unused")
	fx := newGatewayFixture(t, backend.URL)
	ctx := context.Background()

	if err := fx.sessions.Ensure(ctx, "sess-a", "acme", "gpt-test"); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	t.Run("list by workspace", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodGet, "/v1/sessions?workspace=acme", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "sess-a") {
			t.Errorf("expected session in list: %s", rec.Body.String())
		}
	})

	t.Run("delete removes session", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodDelete, "/v1/sessions/sess-a", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if _, err := fx.sessions.Get(ctx, "sess-a"); err == nil {
			t.Error("expected session gone after delete")
		}
	})

	t.Run("delete missing session returns 404", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodDelete, "/v1/sessions/ghost", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestDocumentEndpoints(t *testing.T) {
	backend := unaryBackend(t, "unused")
	fx := newGatewayFixture(t, backend.URL)
	ctx := context.Background()

	body, contentType := multipartUpload(t, "file", "notes.md", []byte("# hello"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/ingest", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Workspace", "acme")
	rec := httptest.NewRecorder()
	fx.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "queued" || resp["workspace"] != "acme" || resp["file_name"] != "notes.md" {
		t.Errorf("unexpected response: %v", resp)
	}

	docID, _ := resp["doc_id"].(string)
	jobID, _ := resp["job_id"].(string)

	t.Run("job row created and message published", func(t *testing.T) {
		job, err := fx.jobs.Get(ctx, jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status != entity.JobStatusQueued || job.DocID != docID {
			t.Errorf("unexpected job: %+v", job)
		}
		if len(fx.publisher.published) != 1 || fx.publisher.published[0].jobID != jobID {
			t.Errorf("unexpected publishes: %+v", fx.publisher.published)
		}
	})

	t.Run("download restores original bytes", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodGet, "/v1/documents/"+docID+"/download", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Body.String() != "# hello" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
		if !strings.Contains(rec.Header().Get("Content-Disposition"), "notes.md") {
			t.Errorf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
		}
	})

	t.Run("download missing document returns 404", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodGet, "/v1/documents/ghost/download", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("codebase ingest tags metadata", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", "repo.tar.gz", []byte("archive-bytes"))
		req := httptest.NewRequest(http.MethodPost, "/v1/codebase/ingest", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		fx.engine.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		doc, err := fx.docs.Get(ctx, resp["doc_id"].(string))
		if err != nil {
			t.Fatalf("get doc: %v", err)
		}
		if doc.Metadata["type"] != "codebase" {
			t.Errorf("expected codebase metadata, got %v", doc.Metadata)
		}
		if doc.Workspace != "default" {
			t.Errorf("expected default workspace, got %q", doc.Workspace)
		}
	})
}

func TestJobEndpoints(t *testing.T) {
	backend := unaryBackend(t, "unused")
	fx := newGatewayFixture(t, backend.URL)
	ctx := context.Background()

	seed := []*entity.IngestJob{
		{ID: "j1", DocID: "d1", Workspace: "acme", JobType: entity.JobTypeDocument, Status: entity.JobStatusQueued},
		{ID: "j2", DocID: "d2", Workspace: "acme", JobType: entity.JobTypeCodebase, Status: entity.JobStatusQueued},
		{ID: "j3", DocID: "d3", Workspace: "other", JobType: entity.JobTypeDocument, Status: entity.JobStatusQueued},
	}
	for _, job := range seed {
		if err := fx.jobs.Create(ctx, job); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}
	if err := fx.jobs.MarkStarted(ctx, "j2"); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := fx.jobs.MarkCompleted(ctx, "j2", map[string]any{"documents_sent": 4}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	t.Run("get job", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodGet, "/v1/jobs/j2", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp JobStatusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "completed" || resp.Attempts != 1 || resp.CompletedAt == nil {
			t.Errorf("unexpected job response: %+v", resp)
		}
	})

	t.Run("get missing job returns 404", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodGet, "/v1/jobs/ghost", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("list filtered by workspace and status", func(t *testing.T) {
		rec := doJSON(t, fx.engine, http.MethodGet, "/v1/jobs?workspace=acme&status=queued", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp struct {
			Jobs  []JobStatusResponse `json:"jobs"`
			Count int                 `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Count != 1 || len(resp.Jobs) != 1 || resp.Jobs[0].JobID != "j1" {
			t.Errorf("unexpected list: %+v", resp)
		}
	})
}
