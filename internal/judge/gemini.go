package judge

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	// DefaultGeminiModel is used when no model is configured.
	DefaultGeminiModel = "gemini-2.0-flash-lite"

	// DefaultTimeout bounds a single judge call.
	DefaultTimeout = 3 * time.Second
)

// Generator is the subset of the genai Models service the judge needs.
// *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini classifies through Google's Gemini API in JSON response mode.
type Gemini struct {
	models  Generator
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini judge with its own genai client.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("judge: gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("judge: create genai client: %w", err)
	}
	return NewGeminiWithGenerator(client.Models, model, timeout), nil
}

// NewGeminiWithGenerator wires a Gemini judge onto an existing generator.
func NewGeminiWithGenerator(g Generator, model string, timeout time.Duration) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gemini{models: g, model: model, timeout: timeout}
}

// Judge makes one bounded GenerateContent call. Any failure to obtain a
// response, including the timeout, is reported as ErrUnavailable.
func (g *Gemini) Judge(ctx context.Context, text string, history []string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.models.GenerateContent(ctx, g.model,
		genai.Text(BuildPrompt(text, history)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.1),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: gemini: %v", ErrUnavailable, err)
	}
	if resp == nil {
		return Verdict{}, fmt.Errorf("%w: empty gemini response", ErrInvalidResponse)
	}
	return ParseVerdict(resp.Text())
}

// Name returns the judge identity recorded in logs.
func (g *Gemini) Name() string {
	return "gemini:" + g.model
}
