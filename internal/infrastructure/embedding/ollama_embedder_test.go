package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	dim := 8
	mockVec := make([]float32, dim)
	for i := range mockVec {
		mockVec[i] = float32(i) * 0.1
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}

		if req.Model != "test-model" {
			t.Fatalf("unexpected model: %s", req.Model)
		}

		resp := embedResponse{
			Model:      "test-model",
			Embeddings: [][]float32{mockVec},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.URL, "test-model", dim, nil)

	if embedder.Dimension() != dim {
		t.Fatalf("expected dimension %d, got %d", dim, embedder.Dimension())
	}

	vec, err := embedder.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(vec) != dim {
		t.Fatalf("expected %d dims, got %d", dim, len(vec))
	}
}

func TestOllamaEmbedder_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.URL, "test-model", 8, nil)

	if _, err := embedder.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on upstream failure")
	}
}
