package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules holds the operator-wide AI rule text and forbidden-command list,
// loaded from an optional YAML file. Group- and server-level rules live in
// the database and are layered on top by the planner.
type Rules struct {
	// GlobalRules is free text prepended to every planning prompt.
	GlobalRules string `yaml:"global_rules"`
	// ForbiddenCommands are case-insensitive substrings that the safety
	// gate treats as forbidden on every server.
	ForbiddenCommands []string `yaml:"forbidden_commands"`
}

// LoadRules reads the rules file at path. A missing or empty path returns
// empty rules; a malformed file is an error so a typo does not silently
// disable the forbidden list.
func LoadRules(path string) (Rules, error) {
	var r Rules
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return r, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return r, nil
}
