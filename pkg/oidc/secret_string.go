package oidc

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

func NewSecretString(value string) SecretString {
	return SecretString{value}
}

// SecretString holds client secrets and session keys so they never end up in logs.
type SecretString struct {
	value string
}

func (s SecretString) String() string {
	if s.value == "" {
		return ""
	}
	return "*****"
}

func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s SecretString) Value() string {
	return s.value
}

func (s SecretString) IsZero() bool {
	return s.value == ""
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SecretString) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &s.value); err != nil {
		return fmt.Errorf("unable to unmarshal secret: %w", err)
	}
	return nil
}

func (s *SecretString) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode(&s.value); err != nil {
		return fmt.Errorf("unable to unmarshal secret: %w", err)
	}
	return nil
}

func (s SecretString) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
