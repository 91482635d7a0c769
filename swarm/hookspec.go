// ABOUTME: Decodes a hooks.ExternalCommand from a YAML fragment, for embedders that
// ABOUTME: configure hooks from files instead of building hooks.Hook literals in Go.

package swarm

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/swarmsdk/swarmsdk/hooks"
)

// hookSpecYAML mirrors hooks.ExternalCommand's fields with a millisecond
// timeout, matching the {command, args, timeout_ms} shape embedders write in
// config files.
type hookSpecYAML struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

// DecodeHookSpec parses a small YAML fragment describing one external-command
// hook and returns the equivalent hooks.ExternalCommand. It exists for the
// narrow case of loading hook invocation specs from a config file without
// pulling in a full definition-loading DSL — everything else about a
// Definition is still built as Go literals by the embedding application.
func DecodeHookSpec(raw []byte) (*hooks.ExternalCommand, error) {
	var spec hookSpecYAML
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("decode hook spec: %w", err)
	}
	if spec.Command == "" {
		return nil, fmt.Errorf("decode hook spec: command must not be empty")
	}
	return &hooks.ExternalCommand{
		Path:    spec.Command,
		Args:    spec.Args,
		Timeout: time.Duration(spec.TimeoutMs) * time.Millisecond,
	}, nil
}
