package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override file config.
// RUNTIME_LLM__RETRIES=5 sets llm.retries; a double underscore
// descends one level and keys are lowercased.
const EnvPrefix = "RUNTIME_"

const enterprisePath = "/etc/tacit/config.yaml"

// Loader resolves and merges the configuration layers for a project
// directory.
type Loader struct {
	projectDir string
	homeDir    string
	environ    func() []string
}

// NewLoader builds a loader rooted at projectDir. An empty projectDir
// means the current working directory.
func NewLoader(projectDir string) *Loader {
	if projectDir == "" {
		projectDir = "."
	}
	home, _ := os.UserHomeDir()
	return &Loader{
		projectDir: projectDir,
		homeDir:    home,
		environ:    os.Environ,
	}
}

// Load merges all layers and decodes the result. Missing files are
// skipped; unreadable or malformed files abort the load.
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}
	for _, path := range l.layerPaths() {
		layer, err := loadRawFile(path)
		if err != nil {
			return nil, err
		}
		if layer != nil {
			merged = mergeMaps(merged, layer)
		}
	}
	merged = mergeMaps(merged, envOverlay(l.environ()))

	cfg := Default()
	if err := decodeRaw(merged, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// layerPaths returns candidate files in ascending precedence.
func (l *Loader) layerPaths() []string {
	paths := []string{enterprisePath}
	if l.homeDir != "" {
		paths = append(paths, filepath.Join(l.homeDir, ".config", "tacit", "config.yaml"))
	}
	paths = append(paths,
		filepath.Join(l.projectDir, "tacit.yaml"),
		filepath.Join(l.projectDir, "tacit.local.yaml"),
	)
	return paths
}

// loadRawFile reads and parses one layer. A missing file yields nil.
func loadRawFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	raw, err := parseRawBytes(data, path)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return raw, nil
}

// parseRawBytes decodes by extension: .json uses the JSON decoder,
// everything else is treated as YAML.
func parseRawBytes(data []byte, path string) (map[string]any, error) {
	raw := map[string]any{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeMaps deep-merges overlay into base. Nested maps recurse, any
// other value replaces. Neither input is mutated.
func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = mergeMaps(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// envOverlay converts RUNTIME_ variables into a nested map.
func envOverlay(environ []string) map[string]any {
	out := map[string]any{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		path := strings.Split(strings.TrimPrefix(key, EnvPrefix), "__")
		node := out
		for i, part := range path {
			part = strings.ToLower(part)
			if part == "" {
				break
			}
			if i == len(path)-1 {
				node[part] = parseScalar(value)
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
	}
	return out
}

// parseScalar interprets an env value as int, float, or bool before
// falling back to string. Integers come first so "1" stays numeric.
func parseScalar(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// decodeRaw maps the merged tree onto cfg using yaml tags. String
// durations like "90s" decode into time.Duration fields.
func decodeRaw(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("building config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}
