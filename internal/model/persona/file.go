package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileOverride lists the fields an operator may change per persona. Nil fields keep
// the seeded value.
type fileOverride struct {
	Name             *string  `toml:"name" yaml:"name"`
	SystemPrompt     *string  `toml:"system_prompt" yaml:"system_prompt"`
	InitialMessage   *string  `toml:"initial_message" yaml:"initial_message"`
	Model            *string  `toml:"model" yaml:"model"`
	Temperature      *float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens        *int     `toml:"max_tokens" yaml:"max_tokens"`
	DailyLimit       *int     `toml:"daily_limit" yaml:"daily_limit"`
	RevealsReasoning *bool    `toml:"reveals_reasoning" yaml:"reveals_reasoning"`
}

type overrideFile struct {
	Personas map[string]fileOverride `toml:"personas" yaml:"personas"`
}

// LoadFile applies the overrides found in a TOML or YAML file to base. Only personas
// already present in base can be overridden; the set of identifiers is fixed.
func LoadFile(path string, base []Persona) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var parsed overrideFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &parsed); err != nil {
			return nil, fmt.Errorf("decode persona toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("decode persona yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported persona file extension %q", filepath.Ext(path))
	}

	return applyOverrides(base, parsed.Personas)
}

func applyOverrides(base []Persona, overrides map[string]fileOverride) ([]Persona, error) {
	out := append([]Persona(nil), base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.ID] = i
	}

	for id, o := range overrides {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("unknown persona %q in persona file", id)
		}
		p := &out[i]
		if o.Name != nil {
			p.Name = *o.Name
		}
		if o.SystemPrompt != nil {
			p.SystemPrompt = *o.SystemPrompt
		}
		if o.InitialMessage != nil {
			p.InitialMessage = *o.InitialMessage
		}
		if o.Model != nil {
			p.Model = *o.Model
		}
		if o.Temperature != nil {
			if *o.Temperature < 0 {
				return nil, fmt.Errorf("persona %q: temperature must not be negative", id)
			}
			p.Temperature = *o.Temperature
		}
		if o.MaxTokens != nil {
			if *o.MaxTokens <= 0 {
				return nil, fmt.Errorf("persona %q: max_tokens must be positive", id)
			}
			p.MaxTokens = *o.MaxTokens
		}
		if o.DailyLimit != nil {
			if *o.DailyLimit < 0 {
				return nil, fmt.Errorf("persona %q: daily_limit must not be negative", id)
			}
			p.DailyLimit = *o.DailyLimit
		}
		if o.RevealsReasoning != nil {
			p.RevealsReasoning = *o.RevealsReasoning
		}
	}
	return out, nil
}
