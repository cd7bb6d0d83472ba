package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/memflow/memflow/pkg/errors"
)

// ChatMessage is one turn sent to the backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single generation.
type ChatOptions struct {
	Temperature float64
	TopP        float64
	NumPredict  int
}

// ChatResult is the accumulated outcome of a chat call.
type ChatResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// OllamaClient talks to Ollama's native /api/chat endpoint.
// One client serves all backends; the backend URL is passed per call
// because different model aliases may route to different hosts.
type OllamaClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewOllamaClient creates an Ollama chat client.
// Transport-level timeouts instead of a total timeout: long generations
// must not be killed mid-stream, cancellation is handled by context.
func NewOllamaClient(logger *zap.Logger) *OllamaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 300 * time.Second, // allow up to 5min for first token
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}
	return &OllamaClient{
		client: &http.Client{Transport: transport},
		logger: logger.With(zap.String("component", "ollama-client")),
	}
}

// ollamaChatRequest matches Ollama /api/chat payload
type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []ChatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaChatResponse matches both the unary response and each NDJSON stream line
type ollamaChatResponse struct {
	Message         ChatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Chat performs a non-streaming generation.
func (c *OllamaClient) Chat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions) (*ChatResult, error) {
	resp, err := c.doChat(ctx, baseURL, model, messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, domainErrors.NewUpstreamFailedError("failed to decode backend response", err)
	}

	return &ChatResult{
		Content:          chatResp.Message.Content,
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
	}, nil
}

// ChatStream performs a streaming generation, emitting content deltas
// on deltaCh as they arrive. The accumulated result is returned once
// the backend reports done.
func (c *OllamaClient) ChatStream(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions, deltaCh chan<- string) (*ChatResult, error) {
	resp, err := c.doChat(ctx, baseURL, model, messages, opts, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Context cancellation does not interrupt resp.Body.Read().
	// Force-close the body so the scanner unblocks.
	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-streamDone:
		}
	}()
	defer close(streamDone)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	result := &ChatResult{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Debug("skip unparseable stream line", zap.Error(err))
			continue
		}

		if chunk.Message.Content != "" {
			contentBuilder.WriteString(chunk.Message.Content)
			deltaCh <- chunk.Message.Content
		}

		if chunk.Done {
			result.PromptTokens = chunk.PromptEvalCount
			result.CompletionTokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domainErrors.NewUpstreamError("backend stream interrupted: "+err.Error(), 0, err)
	}

	result.Content = contentBuilder.String()
	return result, nil
}

func (c *OllamaClient) doChat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions, stream bool) (*http.Response, error) {
	reqBody := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	options := make(map[string]any)
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	}
	if opts.NumPredict > 0 {
		options["num_predict"] = opts.NumPredict
	}
	if len(options) > 0 {
		reqBody.Options = options
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal chat request: " + err.Error())
	}

	url := strings.TrimRight(baseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to create chat request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domainErrors.NewUpstreamError("model backend unreachable: "+err.Error(), 0, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, domainErrors.NewUpstreamError(
			fmt.Sprintf("model backend returned status %d: %s", resp.StatusCode, string(respBody)),
			resp.StatusCode, nil,
		)
	}
	return resp, nil
}
