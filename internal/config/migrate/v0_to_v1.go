package migrate

import (
	"gopkg.in/yaml.v3"
)

// legacyKeys maps the old camelCase settings onto their current names. When
// several old keys share a new name, the earlier entry wins.
var legacyKeys = []struct{ from, to string }{
	{"apiKey", "api_key"},
	{"baseUrl", "base_url"},
	{"modelName", "model"},
	{"systemPrompt", "system_prompt"},
	{"maxTokens", "max_tokens"},
	{"maxContext", "max_context"},
	{"workspaceRoot", "workspace_root"},
	{"projectDir", "workspace_root"},
}

func isLegacyKey(key string) bool {
	for _, k := range legacyKeys {
		if k.from == key {
			return true
		}
	}
	return false
}

// MigrationV0toV1 renames legacy keys and stamps config_version.
type MigrationV0toV1 struct{}

func (m *MigrationV0toV1) FromVersion() int { return Version0 }
func (m *MigrationV0toV1) ToVersion() int   { return Version1 }
func (m *MigrationV0toV1) Description() string {
	return "Rename camelCase settings to snake_case, add config_version"
}

func (m *MigrationV0toV1) Migrate(data []byte) ([]byte, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		if isLegacyKey(k) {
			continue
		}
		out[k] = v
	}
	// Current names win when both spellings are present.
	for _, k := range legacyKeys {
		v, ok := raw[k.from]
		if !ok {
			continue
		}
		if _, exists := out[k.to]; !exists {
			out[k.to] = v
		}
	}

	// An unset temperature used to mean 0.7.
	if t, ok := out["temperature"]; !ok || t == nil {
		out["temperature"] = 0.7
	}
	out["config_version"] = Version1
	return yaml.Marshal(out)
}
