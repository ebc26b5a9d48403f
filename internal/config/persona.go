package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/ReplyPipe/internal/assistant"
)

// LoadPersona reads a YAML persona file. Missing fields fall back to
// assistant.DefaultPersona.
//
//	name: Salon Amina
//	system_prompt: You answer questions about appointments and prices.
//	greeting: Welcome to Salon Amina!
func LoadPersona(path string) (assistant.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return assistant.Persona{}, fmt.Errorf("read persona file %s: %w", path, err)
	}
	var p assistant.Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return assistant.Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	return p.WithDefaults(), nil
}
