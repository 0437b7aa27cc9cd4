package state

import (
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"codegenius/internal/logging"
)

func quietLogger() *logging.StructuredLogger {
	return logging.NewStructuredLogger(log.New(io.Discard, "", 0), "state", false)
}

func TestStoreEnsureAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "be brief", "/work", quietLogger())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	sess, err := store.Ensure("")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if sess.Key() != "session-1" {
		t.Fatalf("key = %q", sess.Key())
	}
	if msgs := sess.Messages(); len(msgs) != 1 || msgs[0].Role != RoleSystem || msgs[0].Content != "be brief" {
		t.Fatalf("unexpected seed messages: %#v", msgs)
	}

	history := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	if err := store.SaveMessages(sess.Key(), history); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewStore(dir, "be brief", "/work", quietLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.Use("session-1")
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if msgs := got.Messages(); len(msgs) != 3 || msgs[2].Content != "hello" {
		t.Fatalf("reloaded messages: %#v", msgs)
	}
	if got.Workspace() != "/work" {
		t.Fatalf("workspace = %q", got.Workspace())
	}

	next, err := reloaded.Ensure("")
	if err != nil {
		t.Fatalf("ensure next: %v", err)
	}
	if next.Key() != "session-2" {
		t.Fatalf("next key = %q", next.Key())
	}
}

func TestStoreCreateRejectsDuplicate(t *testing.T) {
	store, err := NewStore(t.TempDir(), "", "", quietLogger())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := store.Create("alpha"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create("alpha"); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestStoreDeleteAndUnknown(t *testing.T) {
	store, err := NewStore(t.TempDir(), "sys", "", quietLogger())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	sess, err := store.Ensure("work/item 1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if filepath.Base(sess.Path()) != "work_item_1.json" {
		t.Fatalf("path = %q", sess.Path())
	}
	if err := store.Delete("work/item 1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Use("work/item 1"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
	if store.CurrentKey() != "" {
		t.Fatalf("current key should reset, got %q", store.CurrentKey())
	}
}

func TestStoreClearCurrent(t *testing.T) {
	store, err := NewStore(t.TempDir(), "sys", "", quietLogger())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	sess, _ := store.Ensure("a")
	if err := store.SaveMessages("a", []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "x"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.ClearCurrent(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if msgs := sess.Messages(); len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Fatalf("after clear: %#v", msgs)
	}

	summaries := store.Summaries()
	if len(summaries) != 1 || summaries[0].MessageCount != 1 {
		t.Fatalf("summaries: %#v", summaries)
	}
}
