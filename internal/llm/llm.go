package llm

import (
	"context"
	"io"
	"strings"

	"codegenius/internal/state"
)

// ChatRequest is the provider-agnostic payload for a streamed completion.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []state.Message `json:"messages"`
	// Temperature is sent as given, including 0. Nil leaves the provider default.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Stream yields text fragments of one model response. Recv returns io.EOF
// once the response is complete.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client represents a provider capable of streaming chat completions. The
// stream must stop promptly once ctx is cancelled.
type Client interface {
	Stream(ctx context.Context, req ChatRequest) (Stream, error)
}

// Collect drains a stream into a single string.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
}
