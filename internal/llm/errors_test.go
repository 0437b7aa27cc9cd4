package llm

import (
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		want      ErrorType
		retryable bool
	}{
		{429, ErrorTypeRateLimit, true},
		{401, ErrorTypeAuth, false},
		{402, ErrorTypeInsufficientCredit, false},
		{403, ErrorTypeModeration, false},
		{404, ErrorTypeBadRequest, false},
		{503, ErrorTypeProviderDown, true},
		{418, ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		pe := FromHTTPStatus("openai", tt.status, "")
		if pe.Type != tt.want {
			t.Errorf("status %d: type = %s, want %s", tt.status, pe.Type, tt.want)
		}
		if pe.Retryable != tt.retryable {
			t.Errorf("status %d: retryable = %v", tt.status, pe.Retryable)
		}
		if pe.Message == "" {
			t.Errorf("status %d: empty message", tt.status)
		}
	}
}

func TestIsProviderErrorThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("stream: %w", NewProviderError("openai", ErrorTypeAuth, "401", "bad key"))
	pe, ok := IsProviderError(wrapped)
	if !ok || pe.Type != ErrorTypeAuth {
		t.Fatalf("expected auth provider error, got %v", wrapped)
	}
	if _, ok := IsProviderError(fmt.Errorf("plain")); ok {
		t.Fatalf("plain error misclassified")
	}
}
