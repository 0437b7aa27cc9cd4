package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"codegenius/internal/logging"
)

// Version constants
const (
	Version0 = 0 // legacy camelCase settings
	Version1 = 1 // versioned snake_case layout

	CurrentVersion = Version1
)

// Migration represents a single migration step
type Migration interface {
	FromVersion() int
	ToVersion() int
	Description() string
	Migrate(data []byte) ([]byte, error)
}

// DetectVersion determines the config version from raw YAML data. A file
// without config_version is treated as legacy.
func DetectVersion(data []byte) int {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil || raw == nil {
		return Version0
	}
	switch v := raw["config_version"].(type) {
	case int:
		return v
	default:
		return Version0
	}
}

// MigrateConfig rewrites configPath at the current version, keeping a
// timestamped backup of the original. Missing files are left alone.
func MigrateConfig(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	currentVersion := DetectVersion(data)
	if currentVersion >= CurrentVersion {
		return nil
	}

	logging.UserLog("Config migration: v%d -> v%d", currentVersion, CurrentVersion)

	backupName := fmt.Sprintf("%s.backup.v%d.%s",
		filepath.Base(configPath), currentVersion, time.Now().Format("20060102-150405"))
	backupPath := filepath.Join(filepath.Dir(configPath), backupName)
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}

	for _, migration := range GetMigrationChain(currentVersion, CurrentVersion) {
		logging.DevLog("applying migration: %s", migration.Description())
		data, err = migration.Migrate(data)
		if err != nil {
			return fmt.Errorf("migration v%d->v%d failed: %w",
				migration.FromVersion(), migration.ToVersion(), err)
		}
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("write migrated config: %w", err)
	}
	return nil
}

// GetMigrationChain returns the sequence of migrations needed
func GetMigrationChain(fromVersion, toVersion int) []Migration {
	var chain []Migration
	for current := fromVersion; current < toVersion; {
		migration := getMigration(current)
		if migration == nil {
			logging.ErrorLog("no migration from config v%d", current)
			break
		}
		chain = append(chain, migration)
		current = migration.ToVersion()
	}
	return chain
}

func getMigration(fromVersion int) Migration {
	switch fromVersion {
	case Version0:
		return &MigrationV0toV1{}
	default:
		return nil
	}
}
