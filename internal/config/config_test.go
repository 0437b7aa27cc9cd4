package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorString string
	}{
		{
			name:        "defaults pass",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name: "negative temperature fails",
			modifyFunc: func(c *Config) {
				c.Temperature = floatPtr(-0.5)
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "temperature > 2.0 fails",
			modifyFunc: func(c *Config) {
				c.Temperature = floatPtr(3.0)
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "negative max tokens fails",
			modifyFunc: func(c *Config) {
				c.MaxTokens = -1
			},
			expectError: true,
			errorString: "max_tokens",
		},
		{
			name: "context window of one fails",
			modifyFunc: func(c *Config) {
				c.MaxContext = 1
			},
			expectError: true,
			errorString: "max_context must be at least 2",
		},
		{
			name: "turn limit too large fails",
			modifyFunc: func(c *Config) {
				c.MaxTurns = 500
			},
			expectError: true,
			errorString: "max_turns must be between",
		},
		{
			name: "request timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.RequestTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "request_timeout_seconds cannot exceed",
		},
		{
			name: "retries out of range fails",
			modifyFunc: func(c *Config) {
				c.RetryAttempts = 11
			},
			expectError: true,
			errorString: "retry_attempts",
		},
		{
			name: "non-http base url fails",
			modifyFunc: func(c *Config) {
				c.BaseURL = "ftp://example.test"
			},
			expectError: true,
			errorString: "base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CODEGENIUS_CONFIG_DIR", t.TempDir())
			cfg := Default()
			tt.modifyFunc(&cfg)
			err := cfg.validate()
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.errorString)
				}
				if !strings.Contains(err.Error(), tt.errorString) {
					t.Fatalf("error %q does not contain %q", err, tt.errorString)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODEGENIUS_CONFIG_DIR", dir)
	t.Setenv("CODEGENIUS_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(dir, "config.yaml")
	content := "config_version: 1\nmodel: gpt-4o\nmax_turns: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "gpt-4o" || cfg.MaxTurns != 5 {
		t.Fatalf("explicit values lost: %+v", cfg)
	}
	if cfg.BaseURL != DefaultBaseURL || cfg.MaxContext != DefaultMaxContext || cfg.TemperatureValue() != DefaultTemperature {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SessionDir != "" {
		t.Fatalf("session dir should wait for project storage, got %q", cfg.SessionDir)
	}
	cfg.ApplyProjectStorage(filepath.Join(dir, "proj"))
	if cfg.SessionDir != filepath.Join(dir, "proj", "sessions") || cfg.JournalPath != filepath.Join(dir, "proj", "journal.db") {
		t.Fatalf("project storage not applied: %+v", cfg)
	}
	if cfg.RequestTimeout() != 120*time.Second {
		t.Fatalf("timeout = %v", cfg.RequestTimeout())
	}
	if cfg.HasAPIKey() {
		t.Fatalf("no key expected")
	}
}

func TestLoadMigratesLegacyConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODEGENIUS_CONFIG_DIR", dir)
	t.Setenv("CODEGENIUS_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(dir, "config.yaml")
	legacy := "apiKey: sk-old\nbaseUrl: http://localhost:8080/v1\nmodelName: local-model\n"
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "sk-old" || cfg.BaseURL != "http://localhost:8080/v1" || cfg.Model != "local-model" {
		t.Fatalf("legacy values not carried over: %+v", cfg)
	}
	if cfg.ConfigVersion != 1 {
		t.Fatalf("config_version = %d", cfg.ConfigVersion)
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	tests := []struct {
		name       string
		fileKey    string
		envKey     string
		openaiKey  string
		wantKey    string
		wantUsable bool
	}{
		{name: "file key kept", fileKey: "sk-file", wantKey: "sk-file", wantUsable: true},
		{name: "CODEGENIUS_API_KEY wins", fileKey: "sk-file", envKey: "sk-env", wantKey: "sk-env", wantUsable: true},
		{name: "OPENAI_API_KEY fills gap", openaiKey: "sk-openai", wantKey: "sk-openai", wantUsable: true},
		{name: "placeholder replaced", fileKey: "YOUR_API_KEY", openaiKey: "sk-openai", wantKey: "sk-openai", wantUsable: true},
		{name: "placeholder alone is unusable", fileKey: "YOUR_API_KEY", wantKey: "YOUR_API_KEY", wantUsable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CODEGENIUS_API_KEY", tt.envKey)
			t.Setenv("OPENAI_API_KEY", tt.openaiKey)
			cfg := Config{APIKey: tt.fileKey}
			cfg.applyEnv()
			if cfg.APIKey != tt.wantKey {
				t.Fatalf("key = %q, want %q", cfg.APIKey, tt.wantKey)
			}
			if cfg.HasAPIKey() != tt.wantUsable {
				t.Fatalf("HasAPIKey = %v, want %v", cfg.HasAPIKey(), tt.wantUsable)
			}
		})
	}
}

func TestSaveAndEnsureDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODEGENIUS_CONFIG_DIR", dir)
	t.Setenv("CODEGENIUS_CONFIG_PATH", "")

	if err := EnsureDefaultConfig(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}

	cfg := Default()
	cfg.Model = "saved-model"
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	// EnsureDefaultConfig must not clobber an existing file.
	if err := EnsureDefaultConfig(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	loaded, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Model != "saved-model" {
		t.Fatalf("model = %q", loaded.Model)
	}
}

func TestOverrideWorkspaceRoot(t *testing.T) {
	cfg := Config{WorkspaceRoot: "."}
	cfg.OverrideWorkspaceRoot("   ")
	if cfg.WorkspaceRoot != "." {
		t.Fatalf("blank override should be ignored")
	}
	cfg.OverrideWorkspaceRoot("/tmp/project")
	if cfg.WorkspaceRoot != "/tmp/project" {
		t.Fatalf("root = %q", cfg.WorkspaceRoot)
	}
	var nilCfg *Config
	nilCfg.OverrideWorkspaceRoot("x")
}

func TestProjectStorageRoot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODEGENIUS_CONFIG_DIR", dir)

	a := ProjectStorageRoot("/work/My Project")
	b := ProjectStorageRoot("/other/My Project")
	if a == b {
		t.Fatalf("different workspaces share storage: %s", a)
	}
	if !strings.HasPrefix(a, filepath.Join(dir, "projects", "my-project-")) {
		t.Fatalf("unexpected root %s", a)
	}
	if ProjectStorageRoot("/work/My Project") != a {
		t.Fatalf("storage root is not stable")
	}
}

func TestLoadKeepsZeroTemperature(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODEGENIUS_CONFIG_DIR", dir)

	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"explicit zero", "config_version: 1\ntemperature: 0\n", 0},
		{"explicit value", "config_version: 1\ntemperature: 1.3\n", 1.3},
		{"missing", "config_version: 1\n", DefaultTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Temperature == nil || *cfg.Temperature != tt.want {
				t.Fatalf("temperature = %v, want %v", cfg.Temperature, tt.want)
			}
		})
	}
}
