package preproc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memflow/memflow/internal/extractor"
)

type graphCall struct {
	kind      string // text / upload
	workspace string
	payload   string
	fileName  string
}

type stubGraph struct {
	calls   []graphCall
	failAll bool
}

func (g *stubGraph) IngestText(ctx context.Context, workspace, text string) error {
	if g.failAll {
		return io.ErrUnexpectedEOF
	}
	g.calls = append(g.calls, graphCall{kind: "text", workspace: workspace, payload: text})
	return nil
}

func (g *stubGraph) UploadDocument(ctx context.Context, workspace, fileName string, content io.Reader) error {
	if g.failAll {
		return io.ErrUnexpectedEOF
	}
	data, _ := io.ReadAll(content)
	g.calls = append(g.calls, graphCall{kind: "upload", workspace: workspace, payload: string(data), fileName: fileName})
	return nil
}

func newEngine(graph *stubGraph) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(graph, zap.NewNop())
	engine := gin.New()
	engine.POST("/parse", handler.Parse)
	engine.POST("/parse/batch", handler.ParseBatch)
	engine.POST("/ingest", handler.Ingest)
	return engine
}

func multipartBody(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := writer.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func post(t *testing.T, engine *gin.Engine, path string, body *bytes.Buffer, contentType, workspace string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	if workspace != "" {
		req.Header.Set("X-Workspace", workspace)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestParse(t *testing.T) {
	t.Run("python file parsed", func(t *testing.T) {
		engine := newEngine(&stubGraph{})
		body, contentType := multipartBody(t, "file", map[string]string{
			"greeter.py": "def greet(name):\n    return name\n",
		})
		rec := post(t, engine, "/parse", body, contentType, "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var result extractor.ParseResult
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if result.Language != "python" {
			t.Errorf("expected python, got %q", result.Language)
		}
		if !strings.Contains(result.Document, "### Function: greet") {
			t.Errorf("document missing function section:\n%s", result.Document)
		}
	})

	t.Run("unsupported extension rejected", func(t *testing.T) {
		engine := newEngine(&stubGraph{})
		body, contentType := multipartBody(t, "file", map[string]string{"notes.xyz": "hello"})
		rec := post(t, engine, "/parse", body, contentType, "")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Unsupported file type") {
			t.Errorf("unexpected error body: %s", rec.Body.String())
		}
	})
}

func TestParseBatch(t *testing.T) {
	engine := newEngine(&stubGraph{})
	body, contentType := multipartBody(t, "files", map[string]string{
		"a.py":      "def a(): pass\n",
		"b.go":      "package b\n\nfunc B() {}\n",
		"skip.dat":  "binary",
		"notes.txt": "prose",
	})
	rec := post(t, engine, "/parse/batch", body, contentType, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var results []extractor.ParseResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 parsed files, got %d", len(results))
	}
}

func TestIngest(t *testing.T) {
	t.Run("code file parsed and sent as text", func(t *testing.T) {
		graph := &stubGraph{}
		engine := newEngine(graph)
		body, contentType := multipartBody(t, "files", map[string]string{
			"svc/main.go": "package main\n\nfunc main() {}\n",
		})
		rec := post(t, engine, "/ingest", body, contentType, "acme")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp IngestResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Workspace != "acme" || resp.FilesProcessed != 1 || resp.DocumentsSent != 1 {
			t.Errorf("unexpected response: %+v", resp)
		}
		if len(graph.calls) != 1 || graph.calls[0].kind != "text" {
			t.Fatalf("unexpected graph calls: %+v", graph.calls)
		}
		if !strings.Contains(graph.calls[0].payload, "# Module: svc/main.go (go)") {
			t.Errorf("expected structured document, got %q", graph.calls[0].payload)
		}
	})

	t.Run("pdf forwarded as upload", func(t *testing.T) {
		graph := &stubGraph{}
		engine := newEngine(graph)
		body, contentType := multipartBody(t, "files", map[string]string{
			"paper.pdf": "%PDF-1.4 fake",
		})
		rec := post(t, engine, "/ingest", body, contentType, "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if len(graph.calls) != 1 || graph.calls[0].kind != "upload" || graph.calls[0].fileName != "paper.pdf" {
			t.Fatalf("unexpected graph calls: %+v", graph.calls)
		}
		if graph.calls[0].workspace != "default" {
			t.Errorf("expected default workspace, got %q", graph.calls[0].workspace)
		}
	})

	t.Run("markdown uploads and recovers fenced code", func(t *testing.T) {
		graph := &stubGraph{}
		engine := newEngine(graph)
		markdown := "# Design\n\nSome prose.\n\n```python\ndef handler(event):\n    return event\n```\n"
		body, contentType := multipartBody(t, "files", map[string]string{
			"design.md": markdown,
		})
		rec := post(t, engine, "/ingest", body, contentType, "acme")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp IngestResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		// one upload plus one recovered block
		if resp.DocumentsSent != 2 {
			t.Errorf("expected 2 documents sent, got %d", resp.DocumentsSent)
		}
		var recovered bool
		for _, call := range graph.calls {
			if call.kind == "text" && strings.Contains(call.payload, "design.md:block_0.py") {
				recovered = true
			}
		}
		if !recovered {
			t.Errorf("expected recovered block with synthetic path, calls: %+v", graph.calls)
		}
	})

	t.Run("undetected-language blocks dropped silently", func(t *testing.T) {
		graph := &stubGraph{}
		engine := newEngine(graph)
		markdown := "# Runbook\n\n```\nsome output nobody can classify\nmore of the same here\n```\n"
		body, contentType := multipartBody(t, "files", map[string]string{
			"runbook.md": markdown,
		})
		rec := post(t, engine, "/ingest", body, contentType, "acme")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp IngestResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		// only the document upload itself, no parse attempt, no error
		if resp.DocumentsSent != 1 {
			t.Errorf("expected 1 document sent, got %d", resp.DocumentsSent)
		}
		if len(resp.Errors) != 0 {
			t.Errorf("dropped block must not pollute errors: %v", resp.Errors)
		}
		for _, call := range graph.calls {
			if call.kind == "text" {
				t.Errorf("unclassifiable block should not reach the graph: %+v", call)
			}
		}
	})

	t.Run("unknown extension sent as raw text", func(t *testing.T) {
		graph := &stubGraph{}
		engine := newEngine(graph)
		body, contentType := multipartBody(t, "files", map[string]string{
			"config.ini": "[core]\nkey = value\n",
		})
		rec := post(t, engine, "/ingest", body, contentType, "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if len(graph.calls) != 1 || graph.calls[0].kind != "text" || !strings.Contains(graph.calls[0].payload, "[core]") {
			t.Fatalf("unexpected graph calls: %+v", graph.calls)
		}
	})

	t.Run("graph failures accumulate per-file errors", func(t *testing.T) {
		graph := &stubGraph{failAll: true}
		engine := newEngine(graph)
		body, contentType := multipartBody(t, "files", map[string]string{
			"a.py": "def a(): pass\n",
			"b.md": "# doc\n",
		})
		rec := post(t, engine, "/ingest", body, contentType, "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp IngestResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.DocumentsSent != 0 {
			t.Errorf("expected no documents sent, got %d", resp.DocumentsSent)
		}
		if len(resp.Errors) != 2 {
			t.Errorf("expected 2 errors, got %v", resp.Errors)
		}
		if resp.FilesProcessed != 2 {
			t.Errorf("expected files_processed 2, got %d", resp.FilesProcessed)
		}
	})
}
