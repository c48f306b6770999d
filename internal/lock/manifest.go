package lock

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/roster/internal/errors"
)

// Manifest declares the resources that may be locked. Entries are literal
// names or glob patterns where "*" stays within one "/" segment and "**"
// spans segments:
//
//	resources:
//	  - db-migrate
//	  - deploy/*
//	  - cache/**
//
// The manifest is maintained outside roster and only read here.
type Manifest struct {
	Resources []string `yaml:"resources"`

	literal  map[string]bool
	patterns []glob.Glob
}

// LoadManifest reads and compiles the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest compiles a manifest from YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewManifest builds a manifest from resource entries.
func NewManifest(resources ...string) (*Manifest, error) {
	m := &Manifest{Resources: resources}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) compile() error {
	m.literal = make(map[string]bool)
	m.patterns = nil
	for _, r := range m.Resources {
		r = strings.TrimSpace(r)
		if r == "" {
			return errors.NewValidationError("manifest resource", r, "must not be empty")
		}
		if !strings.ContainsAny(r, "*?[{") {
			m.literal[r] = true
			continue
		}
		g, err := glob.Compile(r, '/')
		if err != nil {
			return errors.NewValidationError("manifest resource", r, err.Error())
		}
		m.patterns = append(m.patterns, g)
	}
	return nil
}

// Allows reports whether name is declared. A nil manifest allows everything.
func (m *Manifest) Allows(name string) bool {
	if m == nil {
		return true
	}
	if m.literal[name] {
		return true
	}
	for _, g := range m.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Validate returns errors.ErrUnknownResource for undeclared names.
func (m *Manifest) Validate(name string) error {
	if m.Allows(name) {
		return nil
	}
	return fmt.Errorf("%w: %q", errors.ErrUnknownResource, name)
}

// Names returns the literal (non-pattern) resource names, sorted.
func (m *Manifest) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.literal))
	for n := range m.literal {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
