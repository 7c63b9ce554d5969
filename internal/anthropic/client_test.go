package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "rank these" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "ranked output"}},
		})
	}))
	defer server.Close()

	client := NewClient("test-key", "test-model")
	client.SetTestTransport(server.URL)

	got, err := client.Complete(context.Background(), "system prompt", []Message{{Role: "user", Content: "rank these"}}, 1024)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ranked output" {
		t.Errorf("expected ranked output, got %q", got)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer server.Close()

	client := NewClient("test-key", "test-model")
	client.SetTestTransport(server.URL)

	_, err := client.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 64)
	if err == nil {
		t.Fatal("expected error on 429 response")
	}
	if !strings.Contains(err.Error(), "rate_limit_error") {
		t.Errorf("expected error type in message, got %v", err)
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	}))
	defer server.Close()

	client := NewClient("test-key", "test-model")
	client.SetTestTransport(server.URL)

	_, err := client.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 64)
	if err == nil {
		t.Fatal("expected error on empty content")
	}
}
