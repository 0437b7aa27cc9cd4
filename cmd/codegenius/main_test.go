package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codegenius/internal/llm/mockclient"
)

func TestFormatUTCOffset(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "+00:00"},
		{3600, "+01:00"},
		{19800, "+05:30"},
		{-25200, "-07:00"},
	}
	for _, tt := range tests {
		if got := formatUTCOffset(tt.seconds); got != tt.want {
			t.Errorf("formatUTCOffset(%d) = %s, want %s", tt.seconds, got, tt.want)
		}
	}
}

func TestEnvironmentMetadata(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "en_US.UTF-8")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	meta := environmentMetadata("/work/project", now)
	for _, want := range []string{
		"- Shell: /bin/zsh",
		"- Date: 2026-03-01",
		"- Timezone: CET (UTC+01:00)",
		"- System Language: en_US.UTF-8",
		"- Workspace Root: /work/project",
	} {
		if !strings.Contains(meta, want) {
			t.Errorf("metadata missing %q:\n%s", want, meta)
		}
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":                    "",
		"short":               "****",
		"sk-1234567890abcdef": "sk-1...cdef",
	}
	for in, want := range tests {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

// isolate points every config and data path into a temp dir.
func isolate(t *testing.T) (configDir, workspace string) {
	t.Helper()
	configDir = t.TempDir()
	workspace = t.TempDir()
	t.Setenv("CODEGENIUS_CONFIG_DIR", configDir)
	t.Setenv("CODEGENIUS_CONFIG_PATH", "")
	t.Setenv("CODEGENIUS_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return configDir, workspace
}

func TestBuildClientRequiresKey(t *testing.T) {
	_, workspace := isolate(t)
	t.Setenv("CODEGENIUS_MOCK_LLM", "")
	cfg, err := loadConfig(&rootFlags{workspace: workspace})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := buildClient(cfg); err == nil || !strings.Contains(err.Error(), "no API key configured") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv("CODEGENIUS_MOCK_LLM", "1")
	client, err := buildClient(cfg)
	if err != nil {
		t.Fatalf("mock client: %v", err)
	}
	if _, ok := client.(*mockclient.Client); !ok {
		t.Fatalf("expected mock client, got %T", client)
	}
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	configDir, workspace := isolate(t)
	cfg, err := loadConfig(&rootFlags{workspace: workspace, model: "flag-model"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "flag-model" || cfg.WorkspaceRoot != workspace {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if !strings.HasPrefix(cfg.SessionDir, filepath.Join(configDir, "projects")) {
		t.Fatalf("session dir outside project storage: %s", cfg.SessionDir)
	}
	if _, err := os.Stat(filepath.Join(configDir, "config.yaml")); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestOneShotWithMockThenListCommands(t *testing.T) {
	_, workspace := isolate(t)
	t.Setenv("CODEGENIUS_MOCK_LLM", "1")

	flags := &rootFlags{workspace: workspace}
	if err := runOneShot(context.Background(), flags, "hello there"); err != nil {
		t.Fatalf("one shot: %v", err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sessions", "list", "--sandbox", workspace})
	if err := root.Execute(); err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if !strings.Contains(out.String(), "session-1") {
		t.Fatalf("sessions output:\n%s", out.String())
	}

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"history", "--sandbox", workspace})
	if err := root.Execute(); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "No file operations recorded yet.") {
		t.Fatalf("history output:\n%s", out.String())
	}
}
