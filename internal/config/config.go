package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"codegenius/internal/config/migrate"
	"codegenius/internal/prompts"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxContext  = 50
	DefaultMaxTurns    = 25

	placeholderAPIKey = "YOUR_API_KEY"
)

// Config captures the tunable runtime settings for the agent.
type Config struct {
	ConfigVersion         int      `yaml:"config_version"`
	APIKey                string   `yaml:"api_key,omitempty"`
	BaseURL               string   `yaml:"base_url"`
	Model                 string   `yaml:"model"`
	SystemPrompt          string   `yaml:"system_prompt"`
	Temperature           *float64 `yaml:"temperature,omitempty"`
	MaxTokens             int      `yaml:"max_tokens,omitempty"`
	MaxContext            int      `yaml:"max_context"`
	MaxTurns              int      `yaml:"max_turns"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	RetryAttempts         int      `yaml:"retry_attempts"`
	WorkspaceRoot         string   `yaml:"workspace_root"`
	SessionDir            string   `yaml:"session_dir,omitempty"`
	JournalPath           string   `yaml:"journal_path,omitempty"`
	HistoryPath           string   `yaml:"history_path,omitempty"`
	LogPath               string   `yaml:"log_path"`
	LogJSON               bool     `yaml:"log_json"`
}

// Default returns a config with every default applied.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// ConfigPath is where the user config lives, honouring CODEGENIUS_CONFIG_PATH.
func ConfigPath() string {
	if p := os.Getenv("CODEGENIUS_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// EnsureDefaultConfig writes a default config.yaml if none exists yet.
func EnsureDefaultConfig() error {
	path := ConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	cfg := Config{
		ConfigVersion: migrate.CurrentVersion,
		BaseURL:       DefaultBaseURL,
		Model:         DefaultModel,
		Temperature:   floatPtr(DefaultTemperature),
		MaxContext:    DefaultMaxContext,
		MaxTurns:      DefaultMaxTurns,
		WorkspaceRoot: ".",
	}
	return writeConfig(path, cfg)
}

// LoadUserConfig loads ~/.codegenius/config.yaml (or CODEGENIUS_CONFIG_PATH).
// A missing file yields defaults.
func LoadUserConfig() (Config, error) {
	path := ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return Load(path)
}

// Load reads a YAML config, upgrading legacy layouts in place first.
func Load(path string) (Config, error) {
	if err := migrate.MigrateConfig(path); err != nil {
		return Config{}, fmt.Errorf("migrate config: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	cfg.cleanSystemPrompt()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.ConfigVersion == 0 {
		c.ConfigVersion = migrate.CurrentVersion
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	// An explicit 0 is kept; only a missing value takes the default.
	if c.Temperature == nil {
		c.Temperature = floatPtr(DefaultTemperature)
	}
	if c.MaxContext == 0 {
		c.MaxContext = DefaultMaxContext
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 120
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 2
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(GetConfigDir(), "logs", "codegenius.log")
	}
}

// ApplyProjectStorage points unset session, journal and history paths into
// dataRoot, typically ProjectStorageRoot of the workspace.
func (c *Config) ApplyProjectStorage(dataRoot string) {
	if c.SessionDir == "" {
		c.SessionDir = filepath.Join(dataRoot, "sessions")
	}
	if c.JournalPath == "" {
		c.JournalPath = filepath.Join(dataRoot, "journal.db")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(dataRoot, "history")
	}
}

// ProjectStorageRoot keeps per-workspace state outside the workspace so the
// model cannot read or rewrite it.
func ProjectStorageRoot(workspace string) string {
	return filepath.Join(GetConfigDir(), "projects", projectSlug(workspace))
}

func projectSlug(path string) string {
	clean := filepath.Clean(path)
	base := sanitizeSlug(filepath.Base(clean))
	if base == "" {
		base = "workspace"
	}
	sum := sha1.Sum([]byte(clean))
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(sum[:8]))
}

func sanitizeSlug(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '-' || r == '_' || unicode.IsSpace(r):
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// applyEnv lets the environment supply the API key.
func (c *Config) applyEnv() {
	if key := strings.TrimSpace(os.Getenv("CODEGENIUS_API_KEY")); key != "" {
		c.APIKey = key
		return
	}
	if !c.HasAPIKey() {
		if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
			c.APIKey = key
		}
	}
}

// cleanSystemPrompt strips the built-in protocol text if a combined prompt
// was saved back to disk.
func (c *Config) cleanSystemPrompt() {
	c.SystemPrompt = prompts.ExtractUserPortion(c.SystemPrompt)
}

func (c Config) validate() error {
	if t := c.TemperatureValue(); t < 0 || t > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", t)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0")
	}
	if c.MaxContext < 2 {
		return fmt.Errorf("max_context must be at least 2 (got %d)", c.MaxContext)
	}
	if c.MaxTurns < 1 || c.MaxTurns > 200 {
		return fmt.Errorf("max_turns must be between 1 and 200 (got %d)", c.MaxTurns)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > 10 {
		return fmt.Errorf("retry_attempts must be between 0 and 10")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http(s) URL (got %q)", c.BaseURL)
	}
	return nil
}

// TemperatureValue returns the sampling temperature, DefaultTemperature when
// none is set.
func (c Config) TemperatureValue() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

func floatPtr(v float64) *float64 { return &v }

// HasAPIKey reports whether a usable key is configured.
func (c Config) HasAPIKey() bool {
	key := strings.TrimSpace(c.APIKey)
	return key != "" && key != placeholderAPIKey
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// OverrideWorkspaceRoot swaps the sandbox root at runtime.
func (c *Config) OverrideWorkspaceRoot(root string) {
	if c == nil {
		return
	}
	if trimmed := strings.TrimSpace(root); trimmed != "" {
		c.WorkspaceRoot = trimmed
	}
}

// AbsWorkspaceRoot resolves WorkspaceRoot against the current directory.
func (c Config) AbsWorkspaceRoot() string {
	abs, err := filepath.Abs(c.WorkspaceRoot)
	if err != nil {
		return filepath.Clean(c.WorkspaceRoot)
	}
	return abs
}

func GetConfigDir() string {
	if configDir := os.Getenv("CODEGENIUS_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codegenius"
	}
	return filepath.Join(home, ".codegenius")
}

// Save writes the config to the user's config file.
func Save(c Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return writeConfig(path, c)
}

func writeConfig(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// The file may hold an API key.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
