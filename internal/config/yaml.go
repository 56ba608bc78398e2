package config

import (
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
)

// MaxInputSize limits YAML input to prevent memory exhaustion (default 1MB).
var MaxInputSize = 1 << 20

var (
	ErrEmptyInput    = errors.New("config: empty input")
	ErrInputTooLarge = errors.New("config: input exceeds maximum size")
)

// decodeStrict decodes data into v and rejects unknown fields.
// Keys absent from data keep the value already in v.
func decodeStrict(data []byte, v *Config) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}
	if len(data) > MaxInputSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrInputTooLarge, len(data), MaxInputSize)
	}
	if err := yaml.UnmarshalWithOptions(data, v, yaml.Strict()); err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	return nil
}

// Encode renders the configuration as YAML. Secrets are redacted.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	redacted.Auth.APIKeys = redact(c.Auth.APIKeys)
	if c.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = redactedValue
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return out, nil
}

const redactedValue = "<redacted>"

func redact(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i := range out {
		out[i] = redactedValue
	}
	return out
}
