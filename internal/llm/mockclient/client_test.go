package mockclient

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"codegenius/internal/llm"
	"codegenius/internal/state"
)

func TestEchoClient(t *testing.T) {
	c := New()
	s, err := c.Stream(context.Background(), llm.ChatRequest{Messages: []state.Message{{Role: "user", Content: " hello there "}}})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got, err := llm.Collect(s)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got != "MOCK RESPONSE: hello there" {
		t.Fatalf("got %q", got)
	}
}

func TestScriptedClientExhausts(t *testing.T) {
	c := NewScripted(Text("one"))
	if _, err := c.Stream(context.Background(), llm.ChatRequest{}); err != nil {
		t.Fatalf("first stream: %v", err)
	}
	if _, err := c.Stream(context.Background(), llm.ChatRequest{}); !errors.Is(err, ErrScriptExhausted) {
		t.Fatalf("expected ErrScriptExhausted, got %v", err)
	}
	if n := len(c.Requests()); n != 2 {
		t.Fatalf("requests = %d", n)
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewScripted(Reply{
		Fragments: []string{"a", "b", "c"},
		BeforeFragment: func(i int) {
			if i == 1 {
				cancel()
			}
		},
	})
	s, err := c.Stream(ctx, llm.ChatRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got, err := llm.Collect(s)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got != "ab" {
		t.Fatalf("collected %q", got)
	}
}

func TestChunk(t *testing.T) {
	got := Chunk("a b\nc")
	want := []string{"a ", "b\n", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Chunk = %#v", got)
	}
}
