package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codegenius/internal/llm"
	"codegenius/internal/state"
)

func sseServer(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["stream"] != true {
			t.Errorf("expected stream=true, got %v", body["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		// A role-only chunk first; it must be skipped.
		fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n")
		for _, frag := range fragments {
			chunk, _ := json.Marshal(map[string]any{
				"id":      "1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": frag}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamCollectsDeltas(t *testing.T) {
	srv := sseServer(t, []string{"Hello", ", ", "world"})
	defer srv.Close()

	c := New("test-key", srv.URL+"/v1", 0)
	s, err := c.Stream(context.Background(), llm.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []state.Message{{Role: state.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got, err := llm.Collect(s)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got != "Hello, world" {
		t.Fatalf("got %q", got)
	}
}

func TestStreamMapsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	c := New("nope", srv.URL+"/v1", 0)
	_, err := c.Stream(context.Background(), llm.ChatRequest{Model: "m"})
	pe, ok := llm.IsProviderError(err)
	if !ok {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.Type != llm.ErrorTypeAuth || pe.Code != "401" {
		t.Fatalf("unexpected provider error: %#v", pe)
	}
}

func TestStreamStopsWhenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"first"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New("test-key", srv.URL+"/v1", time.Second)
	s, err := c.Stream(ctx, llm.ChatRequest{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer s.Close()
	if frag, err := s.Recv(); err != nil || frag != "first" {
		t.Fatalf("first fragment = %q, %v", frag, err)
	}

	cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := s.Recv()
		errc <- err
	}()
	select {
	case err := <-errc:
		if err == nil || errors.Is(err, io.EOF) {
			t.Fatalf("expected an error after cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv kept blocking after the context was cancelled")
	}
}

func TestStreamSendsTemperature(t *testing.T) {
	zero, warm := 0.0, 0.5
	tests := []struct {
		name        string
		temperature *float64
		wantSent    bool
		check       func(float64) bool
	}{
		{"unset", nil, false, nil},
		{"explicit zero", &zero, true, func(v float64) bool { return v >= 0 && v < 1e-30 }},
		{"value", &warm, true, func(v float64) bool { return v == 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bodies := make(chan map[string]any, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				bodies <- body
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: [DONE]\n\n")
			}))
			defer srv.Close()

			c := New("test-key", srv.URL+"/v1", 0)
			s, err := c.Stream(context.Background(), llm.ChatRequest{Model: "gpt-4o-mini", Temperature: tt.temperature})
			if err != nil {
				t.Fatalf("stream: %v", err)
			}
			if _, err := llm.Collect(s); err != nil {
				t.Fatalf("collect: %v", err)
			}
			body := <-bodies
			v, sent := body["temperature"]
			if sent != tt.wantSent {
				t.Fatalf("temperature sent = %v, want %v (body %v)", sent, tt.wantSent, body)
			}
			if sent && !tt.check(v.(float64)) {
				t.Fatalf("temperature = %v", v)
			}
		})
	}
}
