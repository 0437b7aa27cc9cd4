// Package state holds chat messages and persists named sessions to disk so a
// conversation can be resumed later.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"codegenius/internal/logging"
)

var (
	// ErrUnknownState is returned when operations reference an undefined key.
	ErrUnknownState = errors.New("unknown session")

	fileExtension = ".json"
	keySanitizer  = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a named conversation bound to a workspace root.
type Session struct {
	key       string
	workspace string
	messages  []Message
	path      string
	createdAt time.Time
	updatedAt time.Time
}

func (s *Session) Key() string          { return s.key }
func (s *Session) Workspace() string    { return s.workspace }
func (s *Session) Path() string         { return s.path }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

// Messages returns a copy of the stored history.
func (s *Session) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Replace swaps the stored history.
func (s *Session) Replace(messages []Message) {
	s.messages = make([]Message, len(messages))
	copy(s.messages, messages)
	s.updatedAt = time.Now()
}

// Clear drops everything except a fresh system prompt.
func (s *Session) Clear(systemPrompt string) {
	s.messages = s.messages[:0]
	if systemPrompt != "" {
		s.messages = append(s.messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	s.updatedAt = time.Now()
}

// Summary describes a stored session without its content.
type Summary struct {
	Key          string    `json:"key"`
	Workspace    string    `json:"workspace"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store keeps sessions in memory and mirrors each one to <root>/<key>.json.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	currentKey   string
	systemPrompt string
	workspace    string
	root         string
	logger       *logging.StructuredLogger
}

// NewStore loads any sessions already present under root. New sessions are
// seeded with systemPrompt and tagged with workspace.
func NewStore(root, systemPrompt, workspace string, logger *logging.StructuredLogger) (*Store, error) {
	if root == "" {
		root = "sessions"
	}
	if logger == nil {
		logger = logging.For("state")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	st := &Store{
		sessions:     make(map[string]*Session),
		systemPrompt: systemPrompt,
		workspace:    workspace,
		root:         root,
		logger:       logger,
	}
	if err := st.load(); err != nil {
		return nil, err
	}
	return st, nil
}

// Ensure returns the session for key, creating it when missing. An empty key
// allocates the next free "session-N" name. The result becomes current.
func (s *Store) Ensure(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		key = s.nextKeyLocked()
	}
	if sess, ok := s.sessions[key]; ok {
		s.currentKey = key
		return sess, nil
	}
	return s.createLocked(key)
}

// Create makes a new session and fails if key is taken.
func (s *Store) Create(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		key = s.nextKeyLocked()
	}
	if _, exists := s.sessions[key]; exists {
		return nil, fmt.Errorf("session %s already exists", key)
	}
	return s.createLocked(key)
}

// Use switches to an existing session.
func (s *Store) Use(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	s.currentKey = key
	return sess, nil
}

// Delete removes a session from memory and disk.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	if err := os.Remove(sess.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	delete(s.sessions, key)
	if s.currentKey == key {
		s.currentKey = ""
	}
	return nil
}

// Current returns the active session, if any.
func (s *Store) Current() (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[s.currentKey]
	return sess, ok
}

// CurrentKey reveals which session is active.
func (s *Store) CurrentKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentKey
}

// ListKeys returns known session keys sorted alphabetically.
func (s *Store) ListKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summaries lists sessions, most recently updated first.
func (s *Store) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, Summary{
			Key:          sess.key,
			Workspace:    sess.workspace,
			CreatedAt:    sess.createdAt,
			UpdatedAt:    sess.updatedAt,
			MessageCount: len(sess.messages),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// SaveMessages replaces the history of key and writes it to disk.
func (s *Store) SaveMessages(key string, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	sess.Replace(messages)
	return s.persistLocked(sess)
}

// ClearCurrent resets the active session to its system prompt.
func (s *Store) ClearCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[s.currentKey]
	if !ok {
		return fmt.Errorf("%w: no active session", ErrUnknownState)
	}
	sess.Clear(s.systemPrompt)
	return s.persistLocked(sess)
}

func (s *Store) createLocked(key string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		key:       key,
		workspace: s.workspace,
		path:      filepath.Join(s.root, sanitizeKey(key)+fileExtension),
		createdAt: now,
		updatedAt: now,
	}
	if s.systemPrompt != "" {
		sess.messages = []Message{{Role: RoleSystem, Content: s.systemPrompt}}
	}
	if err := s.persistLocked(sess); err != nil {
		return nil, err
	}
	s.sessions[key] = sess
	s.currentKey = key
	return sess, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read session dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExtension {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skip unreadable session", logging.Fields{"path": path, "error": err.Error()})
			continue
		}
		var persisted persistedSession
		if err := json.Unmarshal(data, &persisted); err != nil {
			s.logger.Warn("skip malformed session", logging.Fields{"path": path, "error": err.Error()})
			continue
		}
		key := persisted.Key
		if key == "" {
			key = strings.TrimSuffix(entry.Name(), fileExtension)
		}
		sess := &Session{
			key:       key,
			workspace: persisted.Workspace,
			messages:  persisted.Messages,
			path:      path,
			createdAt: persisted.CreatedAt,
			updatedAt: persisted.UpdatedAt,
		}
		if sess.updatedAt.IsZero() {
			if info, statErr := entry.Info(); statErr == nil {
				sess.updatedAt = info.ModTime()
			}
		}
		if sess.createdAt.IsZero() {
			sess.createdAt = sess.updatedAt
		}
		s.sessions[key] = sess
	}
	if len(s.sessions) > 0 {
		s.logger.Debug("loaded sessions", logging.Fields{"count": len(s.sessions)})
	}
	return nil
}

func (s *Store) persistLocked(sess *Session) error {
	data, err := json.MarshalIndent(persistedSession{
		Key:       sess.key,
		Workspace: sess.workspace,
		Messages:  sess.messages,
		CreatedAt: sess.createdAt,
		UpdatedAt: sess.updatedAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tmp := sess.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session: %w", err)
	}
	if err := os.Rename(tmp, sess.path); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func (s *Store) nextKeyLocked() string {
	maxNum := 0
	for key := range s.sessions {
		var num int
		if _, err := fmt.Sscanf(key, "session-%d", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return fmt.Sprintf("session-%d", maxNum+1)
}

func sanitizeKey(key string) string {
	sanitized := strings.Trim(keySanitizer.ReplaceAllString(strings.TrimSpace(key), "_"), "_-")
	if sanitized == "" {
		return "session"
	}
	return sanitized
}

type persistedSession struct {
	Key       string    `json:"key"`
	Workspace string    `json:"workspace"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
