package prompts

import (
	_ "embed"
	"strings"
	"sync"
)

// DefaultSystemPrompt is used when the configuration leaves system_prompt empty.
const DefaultSystemPrompt = "You are a helpful assistant."

//go:embed file_operations.txt
var fileOperations string

const environmentHeader = "## Environment"

var (
	metadataMu sync.RWMutex
	metadata   string
)

// FileOperations returns the tag protocol appended to every system prompt.
func FileOperations() string {
	return strings.TrimSpace(fileOperations)
}

// Combine appends the file-operation protocol and any environment metadata
// to the user's system prompt.
func Combine(user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		user = DefaultSystemPrompt
	}
	sections := []string{user, FileOperations()}
	if meta := getMetadata(); meta != "" {
		sections = append(sections, environmentHeader+"\n"+meta)
	}
	return strings.Join(sections, "\n\n")
}

// ExtractUserPortion strips what Combine added, returning the user's own
// prompt. Input that was not produced by Combine is returned trimmed.
func ExtractUserPortion(combined string) string {
	combined = strings.TrimSpace(combined)
	if idx := strings.Index(combined, FileOperations()); idx >= 0 {
		return strings.TrimSpace(combined[:idx])
	}
	return combined
}

// SetMetadata defines the environment metadata appended to the system prompt.
func SetMetadata(info string) {
	metadataMu.Lock()
	defer metadataMu.Unlock()
	metadata = strings.TrimSpace(info)
}

func getMetadata() string {
	metadataMu.RLock()
	defer metadataMu.RUnlock()
	return metadata
}
