// Package prompts loads the tutor persona template and the fixed messages
// shown to learners.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Messages are fixed strings returned to learners. They are never derived
// from upstream error or block-reason text.
type Messages struct {
	SafetyBlock         string `yaml:"safety_block"`
	PromptBlock         string `yaml:"prompt_block"`
	LevelRequired       string `yaml:"level_required"`
	UpstreamUnavailable string `yaml:"upstream_unavailable"`
	GenericFailure      string `yaml:"generic_failure"`
}

type catalogFile struct {
	Persona  string   `yaml:"persona"`
	Messages Messages `yaml:"messages"`
}

// Catalog is a parsed prompt catalog. It is immutable after load.
type Catalog struct {
	persona  *template.Template
	Messages Messages
}

type personaData struct {
	Level string
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic("prompts: embedded catalog is invalid: " + err.Error())
	}
	return c
}

// Load reads a catalog from path. An empty path returns the default catalog.
// Messages missing from the file fall back to the embedded defaults.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse prompt catalog %s: %w", path, err)
	}
	c.Messages = mergeMessages(c.Messages, Default().Messages)
	return c, nil
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if strings.TrimSpace(f.Persona) == "" {
		return nil, errors.New("persona template is empty")
	}
	tmpl, err := template.New("persona").Option("missingkey=error").Parse(f.Persona)
	if err != nil {
		return nil, fmt.Errorf("parse persona template: %w", err)
	}
	return &Catalog{persona: tmpl, Messages: f.Messages}, nil
}

// Persona renders the system instruction for a learner at the given level.
// The level is inserted verbatim.
func (c *Catalog) Persona(level string) (string, error) {
	var b strings.Builder
	if err := c.persona.Execute(&b, personaData{Level: level}); err != nil {
		return "", fmt.Errorf("render persona: %w", err)
	}
	return b.String(), nil
}

func mergeMessages(m, fallback Messages) Messages {
	if m.SafetyBlock == "" {
		m.SafetyBlock = fallback.SafetyBlock
	}
	if m.PromptBlock == "" {
		m.PromptBlock = fallback.PromptBlock
	}
	if m.LevelRequired == "" {
		m.LevelRequired = fallback.LevelRequired
	}
	if m.UpstreamUnavailable == "" {
		m.UpstreamUnavailable = fallback.UpstreamUnavailable
	}
	if m.GenericFailure == "" {
		m.GenericFailure = fallback.GenericFailure
	}
	return m
}
