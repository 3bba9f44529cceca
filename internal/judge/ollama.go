package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama classifies through a local Ollama server's /api/chat endpoint with
// JSON output forced.
type Ollama struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewOllama creates an Ollama judge whose HTTP client is bounded by timeout.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ollama{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// Judge posts a single non-streaming chat request. Transport failures and
// 5xx answers are ErrUnavailable; other non-2xx answers are
// ErrInvalidResponse.
func (o *Ollama) Judge(ctx context.Context, text string, history []string) (Verdict, error) {
	reqBody := ollamaChatRequest{
		Model: o.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: SystemInstruction},
			{Role: "user", Content: BuildPrompt(text, history)},
		},
		Stream:  false,
		Format:  "json",
		Options: ollamaOptions{Temperature: 0.1, NumPredict: 120},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("judge: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: ollama: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: ollama read: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return Verdict{}, fmt.Errorf("%w: ollama status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("%w: ollama status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Verdict{}, fmt.Errorf("%w: ollama decode: %v", ErrInvalidResponse, err)
	}
	return ParseVerdict(out.Message.Content)
}

// Name returns the judge identity recorded in logs.
func (o *Ollama) Name() string {
	return "ollama:" + o.Model
}
