// Package openai streams chat completions from any OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"codegenius/internal/llm"
	"codegenius/internal/logging"
)

const providerName = "openai"

// Client implements llm.Client over go-openai.
type Client struct {
	api     *goopenai.Client
	baseURL string
	logger  *logging.StructuredLogger
}

// New builds a client for apiKey against baseURL. An empty baseURL keeps the
// library default. timeout bounds connecting and waiting for the response
// headers; once streaming starts, only the request context ends the body.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Transport: streamingTransport(timeout)}
	}
	return &Client{
		api:     goopenai.NewClientWithConfig(cfg),
		baseURL: cfg.BaseURL,
		logger:  logging.For("llm"),
	}
}

func streamingTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = timeout
	t.ResponseHeaderTimeout = timeout
	return t
}

// Stream opens a streamed chat completion.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	messages := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	c.logger.Debug("stream request", logging.Fields{
		"model":    req.Model,
		"messages": len(messages),
		"base_url": c.baseURL,
	})

	s, err := c.api.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, translateError(err)
	}
	return &stream{inner: s}, nil
}

// temperature converts t for go-openai, which omits a zero value from the
// request. A requested 0 becomes the smallest positive float32 so it is sent.
func temperature(t *float64) float32 {
	if t == nil {
		return 0
	}
	if *t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(*t)
}

type stream struct {
	inner *goopenai.ChatCompletionStream
}

// Recv skips chunks that carry no content (role headers, finish markers).
func (s *stream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", translateError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *stream) Close() error {
	s.inner.Close()
	return nil
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		pe := llm.FromHTTPStatus(providerName, apiErr.HTTPStatusCode, apiErr.Message)
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			pe.Type = llm.ErrorTypeQuotaExceeded
			pe.Retryable = false
		}
		return pe
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return llm.FromHTTPStatus(providerName, reqErr.HTTPStatusCode, msg)
	}
	return fmt.Errorf("%s: %w", providerName, err)
}
