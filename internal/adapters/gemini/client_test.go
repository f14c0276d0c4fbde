package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/groundloop-ai/groundloop/internal/core"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		{"plain object", `{"summary": "s"}`, "summary", false},
		{"fenced", "```json\n{\"summary\": \"s\"}\n```", "summary", false},
		{"fenced without language", "```\n{\"summary\": \"s\"}\n```", "summary", false},
		{"prose around object", `Here you go: {"summary": "s"} hope that helps`, "summary", false},
		{"no object", "sorry, I cannot do that", "", true},
		{"broken json", `{"summary": `, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if _, ok := payload[tt.wantKey]; !ok {
				t.Fatalf("missing key %q in %v", tt.wantKey, payload)
			}
		})
	}
}

func TestClient_DisabledWithoutKey(t *testing.T) {
	c := NewClient("")
	if c.Enabled() {
		t.Fatalf("client without key must be disabled")
	}
	_, err := c.GenerateText(context.Background(), "sys", "user", 0.5)
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Code != core.CodeGeneratorUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func geminiStub(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func stubResponse(text string) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return data
}

func TestClient_GenerateText(t *testing.T) {
	c := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("missing api key header, got %q", got)
		}
		w.Write(stubResponse("# PRD\n\nGenerated."))
	})

	text, err := c.GenerateText(context.Background(), "sys", "user", 0.5)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if text != "# PRD\n\nGenerated." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestClient_GenerateJSON(t *testing.T) {
	c := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(stubResponse("```json\n{\"summary\": \"s\"}\n```"))
	})

	payload, err := c.GenerateJSON(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if payload["summary"] != "s" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestClient_GenerateJSONRejectsNonJSON(t *testing.T) {
	c := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(stubResponse("not json at all"))
	})

	_, err := c.GenerateJSON(context.Background(), "sys", "user")
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Code != core.CodeGeneratorInvalid {
		t.Fatalf("expected invalid-output error, got %v", err)
	}
}

func TestClient_APIErrorSurfaced(t *testing.T) {
	c := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "quota exceeded"},
		})
	})

	_, err := c.GenerateText(context.Background(), "sys", "user", 0.5)
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Code != core.CodeGeneratorUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestClient_EmptyCandidates(t *testing.T) {
	c := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})

	_, err := c.GenerateText(context.Background(), "sys", "user", 0.5)
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Code != core.CodeGeneratorInvalid {
		t.Fatalf("expected invalid-output error, got %v", err)
	}
}
