// Package gemini implements the generation collaborator against the
// Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

const (
	defaultModel   = "gemini-3-pro-preview"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout = 120 * time.Second
)

// Client calls the Gemini generateContent endpoint. A client without
// an API key reports Enabled() == false; callers treat that as fatal
// for primary pipeline outputs.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithBaseURL overrides the API base URL, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// NewClient creates a Gemini client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText produces free-form text for the given prompts.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	return c.generate(ctx, systemPrompt, userPrompt, &generationConfig{Temperature: temperature})
}

// GenerateJSON produces a structured object, retrying with manual
// extraction if the native JSON mode response does not parse.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (map[string]interface{}, error) {
	text, err := c.generate(ctx, systemPrompt, userPrompt, &generationConfig{
		Temperature:      0.1,
		ResponseMimeType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	payload, err := ExtractJSON(text)
	if err != nil {
		return nil, core.ErrGeneration(core.CodeGeneratorInvalid, "response is not valid JSON").WithCause(err)
	}
	return payload, nil
}

func (c *Client) generate(ctx context.Context, systemPrompt, userPrompt string, cfg *generationConfig) (string, error) {
	if !c.Enabled() {
		return "", core.ErrGeneration(core.CodeGeneratorUnavailable, "generation API key not configured")
	}

	prompt := fmt.Sprintf("SYSTEM INSTRUCTION:\n%s\n\nUSER REQUEST:\n%s", systemPrompt, userPrompt)
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: cfg,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", core.ErrGeneration(core.CodeGeneratorUnavailable, "generation request failed").WithCause(err)
	}
	defer resp.Body.Close()

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", core.ErrGeneration(core.CodeGeneratorInvalid, "decoding generation response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", core.ErrGeneration(core.CodeGeneratorUnavailable,
			fmt.Sprintf("generation API returned %d: %s", resp.StatusCode, msg))
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", core.ErrGeneration(core.CodeGeneratorInvalid, "generation returned an empty response")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// ExtractJSON parses a JSON object out of generated text, tolerating
// code fences and surrounding prose.
func ExtractJSON(raw string) (map[string]interface{}, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.Trim(text, "`")
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimSpace(text)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		return payload, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("could not parse JSON object from response")
}

// Verify that Client implements the core port.
var _ core.Generator = (*Client)(nil)
