package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// buildEnvironmentMetadata describes the host for the system prompt.
func buildEnvironmentMetadata(workspace string) string {
	return environmentMetadata(workspace, time.Now())
}

func environmentMetadata(workspace string, now time.Time) string {
	zoneName, offset := now.Zone()
	if strings.TrimSpace(zoneName) == "" {
		zoneName = "Local"
	}
	lines := []string{
		fmt.Sprintf("- OS: %s (%s)", runtime.GOOS, runtime.GOARCH),
	}
	if shell := detectShell(); shell != "" {
		lines = append(lines, fmt.Sprintf("- Shell: %s", shell))
	}
	lines = append(lines, fmt.Sprintf("- Date: %s", now.Format("2006-01-02")))
	lines = append(lines, fmt.Sprintf("- Timezone: %s (UTC%s)", zoneName, formatUTCOffset(offset)))
	if locale := detectLocale(); locale != "" {
		lines = append(lines, fmt.Sprintf("- System Language: %s", locale))
	}
	if workspace != "" {
		lines = append(lines, fmt.Sprintf("- Workspace Root: %s (all file paths are relative to it)", workspace))
	}
	if Version != "" {
		lines = append(lines, fmt.Sprintf("- CodeGenius Version: %s", Version))
	}
	return strings.Join(lines, "\n")
}

func detectShell() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	if shell := strings.TrimSpace(os.Getenv("COMSPEC")); shell != "" {
		return shell
	}
	return ""
}

func detectLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}

func formatUTCOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	hours := offsetSeconds / 3600
	minutes := (offsetSeconds % 3600) / 60
	return fmt.Sprintf("%s%02d:%02d", sign, hours, minutes)
}
