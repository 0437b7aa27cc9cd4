package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"codegenius/internal/journal"
	"codegenius/internal/logging"
	"codegenius/internal/state"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":pause", Description: "stop printing the reply (it keeps streaming)"},
	{Text: ":resume", Description: "print the reply again"},
	{Text: ":abort", Description: "cancel the running request"},
	{Text: ":last", Description: "render the last reply as markdown"},
	{Text: ":status", Description: "show run state"},
	{Text: ":sessions", Description: "list stored sessions"},
	{Text: ":use", Description: "switch to a stored session (:use <n|key>)"},
	{Text: ":new", Description: "start a blank session"},
	{Text: ":drop", Description: "delete a stored session"},
	{Text: ":clear", Description: "wipe the current session's history"},
	{Text: ":history", Description: "show recent file operations (:history [n])"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

const helpText = `Commands:
  :help          show this text
  :pause         stop printing the reply; streaming continues
  :resume        print the reply again
  :abort         cancel the running request (also Esc or Ctrl+C)
  :last          render the last reply as markdown
  :status        show run state, session and workspace
  :sessions      list stored sessions
  :use <n|key>   switch to a stored session
  :new [key]     start a blank session
  :drop <key>    delete a stored session
  :clear         wipe the current session's history
  :history [n]   show the n most recent file operations (default 10)
  :quit          exit the program`

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// HistorySource lists journaled file operations.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// ConsoleOptions wires a Console to its terminal and storage.
type ConsoleOptions struct {
	In          io.Reader
	Out         io.Writer
	ResumeKey   string
	HistoryPath string
	Journal     HistorySource
	Workspace   string
	Model       string
	Logger      *logging.StructuredLogger
}

// Console is the terminal front end. Each prompt starts a run on the loop;
// in a terminal the run streams in the background so a new prompt, :pause
// or :abort can be issued while it is in flight.
type Console struct {
	loop    *Loop
	handler *FileOpsHandler
	store   *state.Store
	journal HistorySource
	logger  *logging.StructuredLogger

	in        io.Reader
	out       io.Writer
	isTTY     bool
	render    *glamour.TermRenderer
	inputs    *inputHistory
	resumeKey string
	workspace string
	model     string

	outMu    sync.Mutex
	lineOpen bool
	runs     sync.WaitGroup
}

// NewConsole returns a console bound to stdin/stdout unless opts override them.
func NewConsole(loop *Loop, handler *FileOpsHandler, store *state.Store, opts ConsoleOptions) *Console {
	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.For("console")
	}

	var renderer *glamour.TermRenderer
	if isTerminal(out) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}

	return &Console{
		loop:      loop,
		handler:   handler,
		store:     store,
		journal:   opts.Journal,
		logger:    logger,
		in:        in,
		out:       out,
		isTTY:     isTerminal(in),
		render:    renderer,
		inputs:    loadInputHistory(opts.HistoryPath),
		resumeKey: strings.TrimSpace(opts.ResumeKey),
		workspace: opts.Workspace,
		model:     opts.Model,
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Run starts the prompt and blocks until the user exits or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer c.runs.Wait()
	defer cancel()

	if err := c.selectSession(); err != nil {
		return err
	}

	tracker := newInterruptTracker(2 * time.Second)
	if c.isTTY {
		return c.runPrompt(ctx, cancel, tracker)
	}
	go c.handleInterrupts(ctx, cancel, tracker)
	return c.runNonInteractive(ctx, cancel)
}

// RunOneShot sends a single prompt, streams the reply and returns once the
// run is over.
func (c *Console) RunOneShot(ctx context.Context, text string) error {
	if err := c.selectSession(); err != nil {
		return err
	}
	return c.runOnce(ctx, text)
}

func (c *Console) selectSession() error {
	if key := c.resumeKey; key != "" {
		sess, err := c.store.Use(key)
		if err != nil {
			logging.ErrorLog("failed to resume session %s: %v", key, err)
			return fmt.Errorf("resume session %s: %w", key, err)
		}
		c.activate(sess)
		logging.UserLog("Resumed session '%s'", key)
		return nil
	}
	sess, err := c.store.Create("")
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	c.activate(sess)
	logging.UserLog("Starting new session '%s'", sess.Key())
	return nil
}

func (c *Console) activate(sess *state.Session) {
	c.loop.Restore(sess.Messages())
	c.handler.SetSession(sess.Key())
}

func (c *Console) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	c.printf("Welcome to CodeGenius. Workspace: %s\n", c.workspace)
	c.printf("Type ':help' for commands. Esc aborts a reply, Ctrl+S pauses it, double Ctrl+C exits.\n")

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if st, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, st) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()
	exit := func() {
		exitRequested.Store(true)
		c.loop.Abort()
		cancel()
		panic(promptExit{})
	}

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		c.inputs.Add(line)
		if c.handleLine(ctx, line) {
			exit()
		}
	}

	p := prompt.New(
		executor,
		c.commandCompleter(),
		prompt.OptionHistory(c.inputs.Entries()),
		prompt.OptionTitle("CodeGenius"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return c.promptPrefix(), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if c.loop.Abort() {
						c.notice("Request cancelled.")
						return
					}
					if tracker.secondPress() {
						c.printf("\nReceived second Ctrl+C, exiting.\n")
						exit()
					}
					c.printf("\n(Press Ctrl+C again within 2s to exit)\n")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exit()
					}
				},
			},
			prompt.KeyBind{
				Key: prompt.Escape,
				Fn: func(buf *prompt.Buffer) {
					if c.loop.Abort() {
						c.notice("Request cancelled.")
					}
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlS,
				Fn: func(buf *prompt.Buffer) {
					c.togglePause()
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (c *Console) promptPrefix() string {
	key := c.store.CurrentKey()
	switch c.loop.State() {
	case StateStreaming:
		return fmt.Sprintf("[%s ...] > ", key)
	case StatePaused:
		return fmt.Sprintf("[%s paused] > ", key)
	default:
		return fmt.Sprintf("[%s] > ", key)
	}
}

func (c *Console) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (c *Console) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(c.in)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.printf("%s", c.promptPrefix())
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				c.printf("\n")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if c.handleLine(ctx, trimLineEnding(line)) {
			cancel()
			return nil
		}
	}
}

// handleInterrupts aborts the running request on Ctrl+C and exits on a
// second press when nothing is running.
func (c *Console) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if c.loop.Abort() {
				c.notice("Request cancelled.")
				continue
			}
			if tracker.secondPress() {
				c.printf("\nReceived second Ctrl+C, exiting.\n")
				cancel()
				return
			}
			c.printf("\n(Press Ctrl+C again within 2s to exit)\n")
		}
	}
}

// handleLine dispatches one input line and reports whether to exit.
func (c *Console) handleLine(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, ":") {
		return c.handleCommand(ctx, trimmed)
	}

	logging.DevLog("dispatching prompt: %d chars", len(input))
	done := c.submit(ctx, input)
	if !c.isTTY {
		<-done
	}
	return false
}

// submit starts a run in the background. Any run already in flight is
// aborted by the loop before the new one starts.
func (c *Console) submit(ctx context.Context, text string) <-chan struct{} {
	done := make(chan struct{})
	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		defer close(done)
		if err := c.runOnce(ctx, text); err != nil {
			logging.ErrorLog("agent error: %v", err)
			c.notice(fmt.Sprintf("Error: %v", err))
		}
	}()
	return done
}

func (c *Console) runOnce(ctx context.Context, text string) error {
	key := c.store.CurrentKey()
	aborted := false
	sink := c.sink()
	sink.OnAbort = func() { aborted = true }
	err := c.loop.Chat(ctx, text, sink)
	c.endLine()
	if aborted {
		c.notice("Aborted.")
	}
	if perr := c.store.SaveMessages(key, c.loop.Messages()); perr != nil {
		c.logger.Error("persist session failed", logging.Fields{"session": key, "error": perr.Error()})
	}
	return err
}

func (c *Console) sink() Sink {
	return Sink{
		OnToken:  c.token,
		OnSystem: c.notice,
	}
}

func (c *Console) token(fragment string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprint(c.out, fragment)
	c.lineOpen = !strings.HasSuffix(fragment, "\n")
}

func (c *Console) notice(msg string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.lineOpen {
		fmt.Fprintln(c.out)
		c.lineOpen = false
	}
	fmt.Fprintf(c.out, "» %s\n", msg)
}

func (c *Console) endLine() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.lineOpen {
		fmt.Fprintln(c.out)
		c.lineOpen = false
	}
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
	c.lineOpen = false
}

func (c *Console) togglePause() {
	if c.loop.Paused() {
		c.loop.Pause(false)
		c.notice("Output resumed.")
		return
	}
	c.loop.Pause(true)
	c.notice("Output paused; the reply keeps streaming. :resume to show it again.")
}

// stopRun aborts any in-flight run and waits until it has been persisted.
func (c *Console) stopRun() {
	c.loop.Abort()
	c.runs.Wait()
}

func (c *Console) handleCommand(ctx context.Context, cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case ":help":
		c.printf("%s\n", helpText)
	case ":pause":
		c.loop.Pause(true)
		c.notice("Output paused; the reply keeps streaming. :resume to show it again.")
	case ":resume":
		c.loop.Pause(false)
		c.notice("Output resumed.")
	case ":abort":
		if c.loop.Abort() {
			c.notice("Request cancelled.")
		} else {
			c.notice("Nothing is running.")
		}
	case ":status":
		count, chars := c.inputs.Stats()
		c.printf("State: %s (run %s)\nSession: %s\nWorkspace: %s\nModel: %s\nContext: %d messages\nInput history: %d entries, %d chars\n",
			c.loop.State(), shortRunID(c.loop.RunID()), c.store.CurrentKey(), c.workspace, c.model,
			len(c.loop.Messages()), count, chars)
		if c.loop.Busy() {
			queued := c.handler.Pending()
			c.printf("Queued this turn: %d operation(s)\n", len(queued))
			for _, cmd := range queued {
				c.printf("  %s\n", cmd.Describe())
			}
		}
	case ":last":
		last, ok := c.loop.LastAssistant()
		if !ok {
			c.printf("No reply yet.\n")
			return false
		}
		c.printResponse(last)
	case ":sessions":
		summaries := c.store.Summaries()
		if len(summaries) == 0 {
			c.printf("No stored sessions yet.\n")
			return false
		}
		current := c.store.CurrentKey()
		c.printf("Stored sessions (%d):\n", len(summaries))
		for i, s := range summaries {
			marker := " "
			if s.Key == current {
				marker = "*"
			}
			c.printf("%s %d) %s  %d messages, updated %s\n", marker, i+1, s.Key, s.MessageCount, s.UpdatedAt.Format(time.DateTime))
		}
	case ":use":
		if len(parts) < 2 {
			c.printf(":use requires a session number or key\n")
			return false
		}
		key, ok := resolveSessionChoice(parts[1], c.sessionKeysByRecency())
		if !ok {
			c.printf("Unknown session %s. Try :sessions\n", parts[1])
			return false
		}
		c.stopRun()
		sess, err := c.store.Use(key)
		if err != nil {
			c.printf("%v\n", err)
			return false
		}
		c.activate(sess)
		c.printf("Switched to %s (%d messages)\n", key, len(sess.Messages()))
	case ":new":
		key := ""
		if len(parts) >= 2 {
			key = parts[1]
		}
		c.stopRun()
		sess, err := c.store.Create(key)
		if err != nil {
			c.printf("%v\n", err)
			return false
		}
		c.activate(sess)
		c.printf("Created new session %s\n", sess.Key())
	case ":drop":
		if len(parts) < 2 {
			c.printf(":drop requires a key\n")
			return false
		}
		key := parts[1]
		if key == c.store.CurrentKey() {
			c.printf("Cannot drop the active session; :use another one first.\n")
			return false
		}
		if err := c.store.Delete(key); err != nil {
			c.printf("%v\n", err)
			return false
		}
		c.printf("Removed session %s\n", key)
	case ":clear":
		c.stopRun()
		if err := c.store.ClearCurrent(); err != nil {
			c.printf("Clear failed: %v\n", err)
			return false
		}
		c.loop.Reset()
		c.printf("Cleared current session.\n")
	case ":history":
		limit := 10
		if len(parts) >= 2 {
			val, err := strconv.Atoi(parts[1])
			if err != nil || val <= 0 {
				c.printf(":history expects a positive integer limit (e.g. :history 20).\n")
				return false
			}
			limit = val
		}
		c.printHistory(ctx, limit)
	case ":quit", ":exit":
		c.printf("Exiting per user request.\n")
		c.loop.Abort()
		return true
	default:
		c.printf("Unknown command %s. Try :help\n", parts[0])
	}
	return false
}

func (c *Console) sessionKeysByRecency() []string {
	summaries := c.store.Summaries()
	keys := make([]string, len(summaries))
	for i, s := range summaries {
		keys[i] = s.Key
	}
	return keys
}

func (c *Console) printHistory(ctx context.Context, limit int) {
	if c.journal == nil {
		c.printf("Operation history is not available.\n")
		return
	}
	entries, err := c.journal.Recent(ctx, limit)
	if err != nil {
		c.printf("History lookup failed: %v\n", err)
		return
	}
	if len(entries) == 0 {
		c.printf("No file operations recorded yet.\n")
		return
	}
	for _, e := range entries {
		c.printf("%s\n", formatEntry(e))
	}
}

func formatEntry(e journal.Entry) string {
	status := "ok  "
	if !e.Success {
		status = "FAIL"
	}
	line := fmt.Sprintf("%s  %s  %-12s %s  [%s turn %d]",
		e.CreatedAt.Local().Format(time.DateTime), status, e.Operation, e.Path, shortRunID(e.RunID), e.Turn)
	if e.Error != "" {
		line += "  " + e.Error
	}
	return line
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func (c *Console) printResponse(text string) {
	if c.render == nil || strings.TrimSpace(text) == "" {
		c.printf("%s\n", text)
		return
	}
	rendered, err := c.render.Render(text)
	if err != nil {
		c.logger.Warn("markdown render failed", logging.Fields{"error": err.Error()})
		c.printf("%s\n", text)
		return
	}
	c.printf("%s\n", strings.TrimRight(rendered, "\n"))
}

func resolveSessionChoice(input string, keys []string) (string, bool) {
	if input == "" {
		return "", false
	}
	if idx, err := strconv.Atoi(input); err == nil {
		if idx >= 1 && idx <= len(keys) {
			return keys[idx-1], true
		}
	}
	for _, key := range keys {
		if strings.EqualFold(key, input) {
			return key, true
		}
	}
	return "", false
}

func trimLineEnding(s string) string {
	s = strings.TrimSuffix(s, "\r\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}
