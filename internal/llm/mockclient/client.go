package mockclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"codegenius/internal/llm"
	"codegenius/internal/state"
)

// ErrScriptExhausted is returned when a scripted client receives more
// requests than it has replies for.
var ErrScriptExhausted = errors.New("mock script exhausted")

// Reply scripts one streamed response.
type Reply struct {
	Fragments []string
	// Err fails the Stream call itself.
	Err error
	// RecvErr is returned after the fragments instead of io.EOF.
	RecvErr error
	// BeforeFragment runs just before fragment i is handed out.
	BeforeFragment func(i int)
}

// Text scripts a reply that streams s in word-sized pieces.
func Text(s string) Reply {
	return Reply{Fragments: Chunk(s)}
}

// Chunk splits s into fragments that each end after a space or newline.
func Chunk(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == ' ' || r == '\n' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// Client is a deterministic llm.Client used for tests and CI.
type Client struct {
	mu       sync.Mutex
	prefix   string
	script   []Reply
	scripted bool
	requests []llm.ChatRequest
}

// New returns a mock client that echoes the last user message.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// NewScripted returns a client that plays replies in order.
func NewScripted(replies ...Reply) *Client {
	return &Client{script: replies, scripted: true}
}

// Requests returns every request received so far.
func (c *Client) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Stream satisfies the llm.Client interface.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs := make([]state.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs

	c.mu.Lock()
	c.requests = append(c.requests, req)
	var reply Reply
	if c.scripted {
		if len(c.script) == 0 {
			c.mu.Unlock()
			return nil, ErrScriptExhausted
		}
		reply = c.script[0]
		c.script = c.script[1:]
	} else {
		reply = Text(c.echo(req))
	}
	c.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &stream{ctx: ctx, reply: reply}, nil
}

func (c *Client) echo(req llm.ChatRequest) string {
	if n := len(req.Messages); n > 0 {
		if last := strings.TrimSpace(req.Messages[n-1].Content); last != "" {
			return fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
		}
	}
	return fmt.Sprintf("%s RESPONSE", c.prefix)
}

type stream struct {
	ctx    context.Context
	reply  Reply
	next   int
	closed bool
}

func (s *stream) Recv() (string, error) {
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.next >= len(s.reply.Fragments) {
		if s.reply.RecvErr != nil {
			return "", s.reply.RecvErr
		}
		return "", io.EOF
	}
	if s.reply.BeforeFragment != nil {
		s.reply.BeforeFragment(s.next)
	}
	frag := s.reply.Fragments[s.next]
	s.next++
	return frag, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
