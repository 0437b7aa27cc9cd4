package sandbox

import (
	"encoding/json"
	"errors"

	"codegenius/internal/command"
)

var (
	ErrPathEscape      = errors.New("path escapes workspace root")
	ErrNotFound        = errors.New("not found")
	ErrIO              = errors.New("io failure")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("unsupported operation")
)

// Result is the outcome of a single command. Only the fields relevant to
// Operation are serialized.
type Result struct {
	Success          bool
	Operation        string
	Path             string
	Content          string
	Size             int
	Files            []string
	Directory        string
	Filter           string
	Recursive        bool
	Reason           string
	RequiresFollowUp bool
	Err              error
}

func failure(op, path string, err error) Result {
	return Result{Operation: op, Path: path, Err: err}
}

// Error returns the failure message, or "" on success.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r Result) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"success":   r.Success,
		"operation": r.Operation,
	}
	if r.Err != nil {
		payload["error"] = r.Err.Error()
		if r.Path != "" {
			payload["path"] = r.Path
		}
		return json.Marshal(payload)
	}
	switch r.Operation {
	case command.CreateFile, command.UpdateFile:
		payload["path"] = r.Path
		payload["size"] = r.Size
	case command.ReadFile:
		payload["path"] = r.Path
		payload["content"] = r.Content
		payload["size"] = r.Size
	case command.DeleteFile:
		payload["path"] = r.Path
	case command.ListFiles, command.ListDir:
		files := r.Files
		if files == nil {
			files = []string{}
		}
		payload["files"] = files
		payload["recursive"] = r.Recursive
		if r.Recursive {
			payload["filter"] = r.Filter
		}
		if r.Operation == command.ListDir {
			payload["directory"] = r.Directory
		}
	case command.Again:
		payload["reason"] = r.Reason
		payload["requiresFollowUp"] = r.RequiresFollowUp
	}
	return json.Marshal(payload)
}

// MarshalResults renders results the way they are fed back to the model.
func MarshalResults(results []Result) (string, error) {
	if results == nil {
		results = []Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
