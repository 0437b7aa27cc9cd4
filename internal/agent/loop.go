package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"codegenius/internal/llm"
	"codegenius/internal/logging"
	"codegenius/internal/state"
)

// ErrModelFailure wraps any error raised while requesting or consuming a
// model stream.
var ErrModelFailure = errors.New("model failure")

// State is the run state of a Loop.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StatePaused    State = "paused"
	StateAborted   State = "aborted"
)

const (
	defaultMaxContext = 50
	defaultMaxTurns   = 25
	defaultRetries    = 3
)

// Sink receives what the loop wants shown to the user. OnAbort fires once
// if this run ends by cancellation.
type Sink struct {
	OnToken  func(fragment string)
	OnSystem func(message string)
	OnAbort  func()
}

func (s Sink) token(fragment string) {
	if s.OnToken != nil {
		s.OnToken(fragment)
	}
}

func (s Sink) system(message string) {
	if s.OnSystem != nil {
		s.OnSystem(message)
	}
}

func (s Sink) aborted() {
	if s.OnAbort != nil {
		s.OnAbort()
	}
}

// Turn describes one completed model response.
type Turn struct {
	RunID  string
	Number int
	Text   string
}

// Decision tells the loop what to do after a turn.
type Decision struct {
	Continue bool
	// Message is submitted as the next user turn when Continue is set.
	Message string
}

// Stop ends the run.
func Stop() Decision { return Decision{} }

// Continue feeds message back to the model as a new user turn.
func Continue(message string) Decision { return Decision{Continue: true, Message: message} }

// Handler observes a run. OnToken sees every fragment regardless of pause;
// OnTurnComplete decides whether the loop goes around again.
type Handler interface {
	OnTurnStart()
	OnToken(fragment string)
	OnTurnComplete(ctx context.Context, turn Turn, notify func(string)) (Decision, error)
}

// Options tunes a Loop. Zero values fall back to defaults.
type Options struct {
	Model string
	// Temperature is passed through unchanged; nil uses the provider default.
	Temperature *float64
	MaxTokens   int
	// MaxContext is how many messages are kept after the system prompt.
	MaxContext int
	// MaxTurns bounds model calls per user message.
	MaxTurns int
	// Retries is how many extra attempts are made to open a stream when the
	// provider reports a retryable error.
	Retries    int
	RetryDelay time.Duration
	Logger     *logging.StructuredLogger
}

// Loop drives the streaming conversation. At most one run is active at a
// time; starting a new one aborts and waits for the previous run.
type Loop struct {
	client  llm.Client
	handler Handler
	opts    Options
	logger  *logging.StructuredLogger

	mu       sync.Mutex
	messages []state.Message
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	runID    string

	paused atomic.Bool
}

// NewLoop returns an idle loop whose context holds only systemPrompt.
func NewLoop(client llm.Client, handler Handler, systemPrompt string, opts Options) *Loop {
	if opts.MaxContext <= 0 {
		opts.MaxContext = defaultMaxContext
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.For("agent")
	}
	return &Loop{
		client:   client,
		handler:  handler,
		opts:     opts,
		logger:   logger,
		messages: []state.Message{{Role: state.RoleSystem, Content: systemPrompt}},
		state:    StateIdle,
	}
}

// Chat submits message and runs turns until the model stops issuing
// commands. Cancellation of ctx, Abort, or a newer Chat ends the run
// quietly: no partial assistant turn is recorded, sink.OnAbort fires and nil
// is returned.
func (l *Loop) Chat(ctx context.Context, message string, sink Sink) error {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	runID := uuid.New().String()

	l.mu.Lock()
	prevCancel, prevDone := l.cancel, l.done
	l.cancel, l.done, l.runID = cancel, done, runID
	l.mu.Unlock()

	defer func() {
		cancel()
		l.mu.Lock()
		if l.done == done {
			l.cancel, l.done = nil, nil
		}
		l.mu.Unlock()
		close(done)
	}()

	if prevCancel != nil {
		prevCancel()
	}
	if prevDone != nil {
		<-prevDone
	}

	logger := l.logger.WithRun(runID)
	l.paused.Store(false)
	l.appendMessage(state.Message{Role: state.RoleUser, Content: message})
	l.enterStreaming()

	for turn := 1; ; turn++ {
		text, err := l.streamTurn(runCtx, sink, logger)
		if err != nil {
			if runCtx.Err() != nil {
				l.abortRun(logger, sink, turn)
				return nil
			}
			l.setState(StateIdle)
			logger.Error("model stream failed", logging.Fields{"turn": turn, "error": err.Error()})
			return fmt.Errorf("%w: %w", ErrModelFailure, err)
		}
		if runCtx.Err() != nil {
			l.abortRun(logger, sink, turn)
			return nil
		}
		l.appendMessage(state.Message{Role: state.RoleAssistant, Content: text})

		decision, err := l.handler.OnTurnComplete(runCtx, Turn{RunID: runID, Number: turn, Text: text}, sink.system)
		if err != nil {
			if runCtx.Err() != nil {
				l.abortRun(logger, sink, turn)
				return nil
			}
			l.setState(StateIdle)
			return fmt.Errorf("complete turn %d: %w", turn, err)
		}
		if !decision.Continue {
			logger.Info("run finished", logging.Fields{"turns": turn})
			l.setState(StateIdle)
			return nil
		}
		if runCtx.Err() != nil {
			l.abortRun(logger, sink, turn)
			return nil
		}
		l.appendMessage(state.Message{Role: state.RoleUser, Content: decision.Message})
		if turn >= l.opts.MaxTurns {
			logger.Warn("turn limit reached", logging.Fields{"turns": turn})
			sink.system(fmt.Sprintf("Stopped after %d turns without a final answer. Send a message to continue.", turn))
			l.setState(StateIdle)
			return nil
		}
	}
}

// streamTurn requests one response and consumes it fully. It returns the
// accumulated text only when the stream ended cleanly.
func (l *Loop) streamTurn(ctx context.Context, sink Sink, logger *logging.StructuredLogger) (string, error) {
	l.handler.OnTurnStart()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	req := llm.ChatRequest{
		Model:       l.opts.Model,
		Messages:    l.Messages(),
		Temperature: l.opts.Temperature,
		MaxTokens:   l.opts.MaxTokens,
	}
	stream, err := l.openStreamWithRetry(ctx, req, sink, logger)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var acc strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return acc.String(), nil
		}
		if err != nil {
			return "", err
		}
		acc.WriteString(fragment)
		if !l.paused.Load() {
			sink.token(fragment)
		}
		l.handler.OnToken(fragment)
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

func (l *Loop) openStreamWithRetry(ctx context.Context, req llm.ChatRequest, sink Sink, logger *logging.StructuredLogger) (llm.Stream, error) {
	delay := l.opts.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= l.opts.Retries; attempt++ {
		stream, err := l.client.Stream(ctx, req)
		if err == nil {
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		pe, ok := llm.IsProviderError(err)
		if !ok || !pe.Retryable || attempt == l.opts.Retries {
			return nil, err
		}
		lastErr = err
		logger.Warn("retrying stream request", logging.Fields{"attempt": attempt + 1, "error": err.Error()})
		sink.system(fmt.Sprintf("Provider busy (%s), retrying...", pe.Type))
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

// abortRun records a cancelled run. Only the run's own context decides
// cancellation; a provider timeout is a model failure.
func (l *Loop) abortRun(logger *logging.StructuredLogger, sink Sink, turn int) {
	logger.Info("run aborted", logging.Fields{"turn": turn})
	l.setState(StateAborted)
	sink.aborted()
}

// Pause toggles forwarding of fragments to the sink. Fragments are still
// consumed and accumulated while paused.
func (l *Loop) Pause(paused bool) {
	l.paused.Store(paused)
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case paused && l.state == StateStreaming:
		l.state = StatePaused
	case !paused && l.state == StatePaused:
		l.state = StateStreaming
	}
}

// Paused reports whether output is currently suppressed.
func (l *Loop) Paused() bool {
	return l.paused.Load()
}

// Abort cancels the active run, if any, and reports whether one existed.
func (l *Loop) Abort() bool {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Wait blocks until the active run, if any, has exited.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Busy reports whether a run is in progress.
func (l *Loop) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// State returns the current run state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RunID identifies the most recent run.
func (l *Loop) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// Messages returns a snapshot of the conversation context.
func (l *Loop) Messages() []state.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]state.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// LastAssistant returns the most recent assistant turn, if any.
func (l *Loop) LastAssistant() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == state.RoleAssistant {
			return l.messages[i].Content, true
		}
	}
	return "", false
}

// Restore replaces the context with a previously saved history. A leading
// system message in history is replaced by the loop's own system prompt.
func (l *Loop) Restore(history []state.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(history) > 0 && history[0].Role == state.RoleSystem {
		history = history[1:]
	}
	restored := make([]state.Message, 0, len(history)+1)
	restored = append(restored, l.messages[0])
	restored = append(restored, history...)
	l.messages = compact(restored, l.opts.MaxContext)
}

// Reset drops everything but the system prompt.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:1]
}

func (l *Loop) appendMessage(msg state.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = compact(append(l.messages, msg), l.opts.MaxContext)
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) enterStreaming() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused.Load() {
		l.state = StatePaused
		return
	}
	l.state = StateStreaming
}

// compact keeps the system message plus the last keep messages.
func compact(messages []state.Message, keep int) []state.Message {
	if len(messages) <= keep+1 {
		return messages
	}
	out := make([]state.Message, 0, keep+1)
	out = append(out, messages[0])
	out = append(out, messages[len(messages)-keep:]...)
	return out
}
