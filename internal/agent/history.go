package agent

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const maxInputHistory = 500

// inputHistory backs prompt recall. Lines are appended to path as they are
// entered; only the newest maxInputHistory are loaded.
type inputHistory struct {
	mu      sync.Mutex
	path    string
	entries []string
	total   int
}

func loadInputHistory(path string) *inputHistory {
	h := &inputHistory{path: path}
	if path == "" {
		return h
	}
	f, err := os.Open(path)
	if err != nil {
		return h
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.appendLocked(line)
	}
	return h
}

func (h *inputHistory) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cpy := make([]string, len(h.entries))
	copy(cpy, h.entries)
	return cpy
}

// Add records line unless it repeats the previous entry.
func (h *inputHistory) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.appendLocked(line)
	if h.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintln(f, line)
}

func (h *inputHistory) appendLocked(line string) {
	h.entries = append(h.entries, line)
	h.total += len(line)
	if over := len(h.entries) - maxInputHistory; over > 0 {
		for _, dropped := range h.entries[:over] {
			h.total -= len(dropped)
		}
		h.entries = append(h.entries[:0:0], h.entries[over:]...)
	}
}

func (h *inputHistory) Stats() (count, chars int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries), h.total
}
