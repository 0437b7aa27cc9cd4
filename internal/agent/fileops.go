package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"codegenius/internal/command"
	"codegenius/internal/journal"
	"codegenius/internal/logging"
	"codegenius/internal/sandbox"
)

// Executor runs one parsed command.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) sandbox.Result
}

// Recorder persists executed operations.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// FileOpsHandler turns completed responses into file operations and feeds
// their results back to the model.
type FileOpsHandler struct {
	exec     Executor
	recorder Recorder
	logger   *logging.StructuredLogger

	mu      sync.Mutex
	session string
	acc     strings.Builder
	pending []command.Command
	seen    map[string]struct{}
}

// HandlerOption configures a FileOpsHandler.
type HandlerOption func(*FileOpsHandler)

// WithRecorder journals every executed command.
func WithRecorder(r Recorder) HandlerOption {
	return func(h *FileOpsHandler) { h.recorder = r }
}

// WithHandlerLogger overrides the handler's logger.
func WithHandlerLogger(l *logging.StructuredLogger) HandlerOption {
	return func(h *FileOpsHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewFileOpsHandler(exec Executor, opts ...HandlerOption) *FileOpsHandler {
	h := &FileOpsHandler{
		exec:   exec,
		logger: logging.For("fileops"),
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSession tags journal entries with a session key.
func (h *FileOpsHandler) SetSession(key string) {
	h.mu.Lock()
	h.session = key
	h.mu.Unlock()
}

func (h *FileOpsHandler) OnTurnStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}

// OnToken accumulates the fragment and queues any newly completed commands.
// Nothing is executed here.
func (h *FileOpsHandler) OnToken(fragment string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acc.WriteString(fragment)
	if !strings.Contains(fragment, ">") {
		return
	}
	text := h.acc.String()
	if !command.HasCommands(text) {
		return
	}
	for _, cmd := range command.Parse(text) {
		key := cmd.Key()
		if _, ok := h.seen[key]; ok {
			continue
		}
		h.seen[key] = struct{}{}
		h.pending = append(h.pending, cmd)
		h.logger.Debug("queued operation", logging.Fields{"op": cmd.Name, "path": cmd.Path()})
	}
}

// Pending returns the commands detected so far in the current turn.
func (h *FileOpsHandler) Pending() []command.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]command.Command, len(h.pending))
	copy(out, h.pending)
	return out
}

// OnTurnComplete executes every command in turn.Text in order. A response
// without commands is final.
func (h *FileOpsHandler) OnTurnComplete(ctx context.Context, turn Turn, notify func(string)) (Decision, error) {
	h.mu.Lock()
	h.resetLocked()
	session := h.session
	h.mu.Unlock()

	notify(fmt.Sprintf("Received response (%d chars)", len(turn.Text)))
	if !command.HasCommands(turn.Text) {
		notify("No file operations detected")
		return Stop(), nil
	}
	cmds := command.Parse(turn.Text)
	if len(cmds) == 0 {
		notify("No complete file operations found")
		return Stop(), nil
	}
	notify(fmt.Sprintf("Found %d file operation(s)", len(cmds)))

	results := make([]sandbox.Result, 0, len(cmds))
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		notify(fmt.Sprintf("  executing: %s -> %s", cmd.Name, cmd.Path()))
		res := h.exec.Execute(ctx, cmd)
		results = append(results, res)
		h.record(ctx, turn, session, res)
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	payload, err := sandbox.MarshalResults(results)
	if err != nil {
		return Decision{}, fmt.Errorf("serialize results: %w", err)
	}
	notify("File operations complete")
	return Continue(payload), nil
}

func (h *FileOpsHandler) record(ctx context.Context, turn Turn, session string, res sandbox.Result) {
	if h.recorder == nil {
		return
	}
	entry := journal.Entry{
		RunID:     turn.RunID,
		Session:   session,
		Turn:      turn.Number,
		Operation: res.Operation,
		Path:      res.Path,
		Success:   res.Success,
		Error:     res.Error(),
	}
	if err := h.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		h.logger.Warn("journal write failed", logging.Fields{"error": err.Error()})
	}
}

func (h *FileOpsHandler) resetLocked() {
	h.acc.Reset()
	h.pending = nil
	h.seen = make(map[string]struct{})
}
