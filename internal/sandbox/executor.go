// Package sandbox executes file-operation commands inside a single root
// directory. Every path is resolved against the root and rejected before any
// I/O if it would land outside it.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codegenius/internal/command"
	"codegenius/internal/logging"
)

const defaultAgainReason = "no reason given"

// Executor performs commands against a sandbox root. It holds no locks;
// concurrent writers to the same path race with last-write-wins semantics.
type Executor struct {
	guard  pathGuard
	logger *logging.StructuredLogger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the trace logger.
func WithLogger(l *logging.StructuredLogger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates the root directory if needed and returns an executor
// bound to its absolute path.
func NewExecutor(root string, opts ...Option) (*Executor, error) {
	guard, err := newPathGuard(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(guard.root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create sandbox root: %v", ErrIO, err)
	}
	e := &Executor{guard: guard, logger: logging.For("sandbox")}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Root returns the absolute sandbox root.
func (e *Executor) Root() string {
	return e.guard.root
}

// Execute dispatches cmd and always returns a Result; failures are reported
// in the Result rather than as a Go error.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) Result {
	select {
	case <-ctx.Done():
		return failure(cmd.Name, cmd.Path(), ctx.Err())
	default:
	}

	var res Result
	switch cmd.Name {
	case command.CreateFile:
		res = e.write(command.CreateFile, cmd)
	case command.UpdateFile:
		res = e.write(command.UpdateFile, cmd)
	case command.ReadFile:
		res = e.requirePath(cmd, e.ReadFile)
	case command.DeleteFile:
		res = e.requirePath(cmd, e.DeleteFile)
	case command.ListFiles:
		res = e.ListFiles(ctx, filterFrom(cmd))
	case command.ListDir:
		path, ok := cmd.Attr("path")
		if !ok || path == "" {
			res = failure(command.ListDir, "", fmt.Errorf("%w: path is required", ErrInvalidArgument))
			break
		}
		res = e.ListDir(ctx, path, filterFrom(cmd))
	case command.Again:
		reason, _ := cmd.Attr("reason")
		res = e.Again(reason)
	default:
		res = failure(cmd.Name, cmd.Path(), fmt.Errorf("%w: %s", ErrUnsupported, cmd.Name))
	}
	e.trace(res)
	return res
}

func (e *Executor) write(op string, cmd command.Command) Result {
	path := cmd.Path()
	if path == "" {
		return failure(op, "", fmt.Errorf("%w: path is required", ErrInvalidArgument))
	}
	if op == command.UpdateFile {
		return e.UpdateFile(path, cmd.Body)
	}
	return e.CreateFile(path, cmd.Body)
}

func (e *Executor) requirePath(cmd command.Command, fn func(string) Result) Result {
	path := cmd.Path()
	if path == "" {
		return failure(cmd.Name, "", fmt.Errorf("%w: path is required", ErrInvalidArgument))
	}
	return fn(path)
}

func filterFrom(cmd command.Command) Filter {
	if pattern, ok := cmd.Attr("filter"); ok {
		return Glob(pattern)
	}
	return NoFilter
}

// CreateFile writes content to path, creating parent directories and
// overwriting any existing file.
func (e *Executor) CreateFile(path, content string) Result {
	return e.writeFile(command.CreateFile, path, content)
}

// UpdateFile replaces the whole content of path. It has the same write
// semantics as CreateFile.
func (e *Executor) UpdateFile(path, content string) Result {
	return e.writeFile(command.UpdateFile, path, content)
}

func (e *Executor) writeFile(op, path, content string) Result {
	abs, err := e.guard.Resolve(path)
	if err != nil {
		return failure(op, path, err)
	}
	if abs == e.guard.root {
		return failure(op, path, fmt.Errorf("%w: path must name a file", ErrInvalidArgument))
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return failure(op, path, fmt.Errorf("%w: %v", ErrIO, err))
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return failure(op, path, fmt.Errorf("%w: %v", ErrIO, err))
	}
	return Result{Success: true, Operation: op, Path: e.guard.Rel(abs), Size: len(content)}
}

// ReadFile returns the full content of path.
func (e *Executor) ReadFile(path string) Result {
	abs, err := e.guard.Resolve(path)
	if err != nil {
		return failure(command.ReadFile, path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return failure(command.ReadFile, path, classify(path, err))
	}
	return Result{
		Success:   true,
		Operation: command.ReadFile,
		Path:      e.guard.Rel(abs),
		Content:   string(data),
		Size:      len(data),
	}
}

// DeleteFile removes a single file. Directories are refused.
func (e *Executor) DeleteFile(path string) Result {
	abs, err := e.guard.Resolve(path)
	if err != nil {
		return failure(command.DeleteFile, path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return failure(command.DeleteFile, path, classify(path, err))
	}
	if info.IsDir() {
		return failure(command.DeleteFile, path, fmt.Errorf("%w: %s is a directory", ErrInvalidArgument, path))
	}
	if err := os.Remove(abs); err != nil {
		return failure(command.DeleteFile, path, classify(path, err))
	}
	return Result{Success: true, Operation: command.DeleteFile, Path: e.guard.Rel(abs)}
}

// ListFiles lists files under the root. Without a filter only the root's
// direct children are returned; with one the whole tree is walked.
func (e *Executor) ListFiles(ctx context.Context, filter Filter) Result {
	files, err := e.list(ctx, e.guard.root, filter)
	if err != nil {
		return failure(command.ListFiles, "", err)
	}
	return Result{
		Success:   true,
		Operation: command.ListFiles,
		Files:     files,
		Filter:    filter.Pattern,
		Recursive: filter.Set,
	}
}

// ListDir is ListFiles rooted at dir. Returned paths stay root-relative.
func (e *Executor) ListDir(ctx context.Context, dir string, filter Filter) Result {
	abs, err := e.guard.Resolve(dir)
	if err != nil {
		return failure(command.ListDir, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return failure(command.ListDir, dir, classify(dir, err))
	}
	if !info.IsDir() {
		return failure(command.ListDir, dir, fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, dir))
	}
	files, err := e.list(ctx, abs, filter)
	if err != nil {
		return failure(command.ListDir, dir, err)
	}
	return Result{
		Success:   true,
		Operation: command.ListDir,
		Path:      e.guard.Rel(abs),
		Directory: e.guard.Rel(abs),
		Files:     files,
		Filter:    filter.Pattern,
		Recursive: filter.Set,
	}
}

// Again acknowledges a follow-up request without touching the filesystem.
func (e *Executor) Again(reason string) Result {
	if strings.TrimSpace(reason) == "" {
		reason = defaultAgainReason
	}
	return Result{
		Success:          true,
		Operation:        command.Again,
		Reason:           reason,
		RequiresFollowUp: true,
	}
}

func (e *Executor) list(ctx context.Context, dir string, filter Filter) ([]string, error) {
	files := []string{}
	if !filter.Set {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				files = append(files, e.guard.Rel(filepath.Join(dir, entry.Name())))
			}
		}
		sort.Strings(files)
		return files, nil
	}

	matcher, err := filter.compile()
	if err != nil {
		return nil, err
	}
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel := e.guard.Rel(path)
		if matcher.Match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, walkErr)
	}
	sort.Strings(files)
	return files, nil
}

func classify(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

func (e *Executor) trace(res Result) {
	fields := logging.Fields{"op": res.Operation, "success": res.Success}
	if res.Path != "" {
		fields["path"] = res.Path
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
		e.logger.Warn("operation failed", fields)
		return
	}
	e.logger.Info("operation", fields)
}
