// Package manifest loads the declared-state document: the set of
// ResourceSpecs a workspace should converge to.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/varunnarsana/stratus/types"
)

// Manifest is the on-disk declaration. YAML is the native format; JSON
// documents parse through the same path.
type Manifest struct {
	Version   string               `yaml:"version,omitempty" json:"version,omitempty"`
	Workspace string               `yaml:"workspace,omitempty" json:"workspace,omitempty"`
	Resources []types.ResourceSpec `yaml:"resources" json:"resources"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	for i := range m.Resources {
		m.Resources[i].NormalizeDeps()
	}
	return &m, nil
}

// Validate checks every declared resource and the references between
// them. The graph builder re-checks its own invariants; this gives the
// user file-level errors before any planning starts.
func (m *Manifest) Validate() error {
	if len(m.Resources) == 0 {
		return fmt.Errorf("manifest declares no resources")
	}

	seen := make(map[string]bool, len(m.Resources))
	for i := range m.Resources {
		spec := &m.Resources[i]
		if err := spec.Validate(); err != nil {
			return err
		}
		if seen[spec.ID] {
			return fmt.Errorf("duplicate resource id %q", spec.ID)
		}
		seen[spec.ID] = true
	}

	for i := range m.Resources {
		spec := &m.Resources[i]
		for _, dep := range spec.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("resource %s depends on undeclared resource %q", spec.ID, dep)
			}
		}
	}
	return nil
}

// SpecsByID returns the declared resources keyed by id.
func (m *Manifest) SpecsByID() map[string]types.ResourceSpec {
	out := make(map[string]types.ResourceSpec, len(m.Resources))
	for _, spec := range m.Resources {
		out[spec.ID] = spec
	}
	return out
}
