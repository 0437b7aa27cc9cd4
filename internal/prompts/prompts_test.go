package prompts

import (
	"strings"
	"testing"
)

func TestCombineAppendsProtocol(t *testing.T) {
	SetMetadata("")
	got := Combine("  You write Go.  ")
	if !strings.HasPrefix(got, "You write Go.\n\n## File operations") {
		t.Fatalf("unexpected prompt start: %q", got[:60])
	}
	for _, tag := range []string{"<create_file", "<read_file", "<update_file", "<delete_file", "<list_files", "<list_dir", "<again"} {
		if !strings.Contains(got, tag) {
			t.Errorf("prompt missing %s", tag)
		}
	}
}

func TestCombineDefaultsAndMetadata(t *testing.T) {
	SetMetadata("workspace: /tmp/project")
	t.Cleanup(func() { SetMetadata("") })

	got := Combine("")
	if !strings.HasPrefix(got, DefaultSystemPrompt) {
		t.Fatalf("expected default prompt first: %q", got[:40])
	}
	if !strings.HasSuffix(got, "## Environment\nworkspace: /tmp/project") {
		t.Fatalf("metadata missing: %q", got[len(got)-60:])
	}
	if ExtractUserPortion(got) != DefaultSystemPrompt {
		t.Fatalf("extract = %q", ExtractUserPortion(got))
	}
}

func TestExtractUserPortionPassthrough(t *testing.T) {
	if got := ExtractUserPortion(" custom only "); got != "custom only" {
		t.Fatalf("got %q", got)
	}
}
