package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flag is a boolean that also accepts yes/no and on/off spellings.
type Flag bool

// Decode implements envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "y":
		*f = true
	case "", "0", "false", "no", "off", "n":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %q", value)
	}
	return nil
}

// UnmarshalYAML accepts the same spellings as Decode.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	return f.Decode(node.Value)
}

// Enabled reports the flag value.
func (f Flag) Enabled() bool {
	return bool(f)
}
