package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// RuleFile is the persisted permission configuration.
type RuleFile struct {
	Version      int    `json:"version"`
	DefaultLevel Level  `json:"default_level,omitempty"`
	Rules        []Rule `json:"rules,omitempty"`
}

const ruleFileVersion = 1

// LoadRuleFile reads rules from path. A missing file yields an empty
// set, not an error.
func LoadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &RuleFile{Version: ruleFileVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read permission rules: %w", err)
	}

	var file RuleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse permission rules: %w", err)
	}
	if file.Version != ruleFileVersion {
		return &RuleFile{Version: ruleFileVersion}, nil
	}
	return &file, nil
}

// SaveRuleFile persists rules to path, creating parent directories.
func SaveRuleFile(path string, file *RuleFile) error {
	if file.Version == 0 {
		file.Version = ruleFileVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create permission rules dir: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal permission rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write permission rules: %w", err)
	}
	return nil
}

// LoadLayered merges the global and project rule files. Project rules
// are appended after global ones so equal-priority conflicts resolve in
// the project's favour only through higher priority or specificity; the
// project file's default level, when set, overrides the global one.
func LoadLayered(globalPath, projectPath string) ([]Rule, Level, error) {
	defaultLevel := LevelAsk

	var rules []Rule
	for _, path := range []string{globalPath, projectPath} {
		if path == "" {
			continue
		}
		file, err := LoadRuleFile(path)
		if err != nil {
			return nil, defaultLevel, err
		}
		rules = append(rules, file.Rules...)
		if file.DefaultLevel.Valid() {
			defaultLevel = file.DefaultLevel
		}
	}
	return rules, defaultLevel, nil
}
