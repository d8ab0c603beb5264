package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/varunnarsana/stratus/types"
)

const sampleManifest = `
version: "1"
workspace: staging
resources:
  - id: web-vpc
    kind: network
    attributes:
      cidr_block: 10.0.0.0/16
  - id: app-db
    kind: database
    attributes:
      engine: postgres
      allocated_storage: 20
    depends_on: [web-vpc]
  - id: app-asg
    kind: compute
    attributes:
      instance_type: t3.micro
      min_size: 2
      max_size: 4
    depends_on: [web-vpc, app-db]
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.Workspace != "staging" {
		t.Errorf("Workspace = %q, want staging", m.Workspace)
	}
	if len(m.Resources) != 3 {
		t.Fatalf("len(Resources) = %d, want 3", len(m.Resources))
	}

	db := m.Resources[1]
	if db.ID != "app-db" || db.Kind != types.KindDatabase {
		t.Errorf("resource[1] = %s/%s, want app-db/database", db.ID, db.Kind)
	}
	if got := db.Attributes["allocated_storage"]; got != 20 {
		t.Errorf("allocated_storage = %v (%T), want int 20", got, got)
	}
	if got := db.Attributes["engine"]; got != "postgres" {
		t.Errorf("engine = %v, want postgres", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() succeeded on missing file")
	}
}

func TestParse_JSONDocument(t *testing.T) {
	doc := `{"resources": [{"id": "n1", "kind": "network", "attributes": {"cidr_block": "10.0.0.0/16"}}]}`
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Resources) != 1 || m.Resources[0].ID != "n1" {
		t.Errorf("unexpected resources: %+v", m.Resources)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "no resources",
			doc:  `workspace: prod`,
		},
		{
			name: "duplicate ids",
			doc: `
resources:
  - id: n1
    kind: network
  - id: n1
    kind: storage
`,
		},
		{
			name: "unknown kind",
			doc: `
resources:
  - id: n1
    kind: cluster
`,
		},
		{
			name: "dependency on undeclared resource",
			doc: `
resources:
  - id: d1
    kind: database
    depends_on: [n1]
`,
		},
		{
			name: "self dependency",
			doc: `
resources:
  - id: n1
    kind: network
    depends_on: [n1]
`,
		},
		{
			name: "not yaml at all",
			doc:  `{{{{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("Parse() succeeded on invalid manifest")
			}
		})
	}
}

func TestParse_NormalizesDeps(t *testing.T) {
	doc := `
resources:
  - id: n1
    kind: network
  - id: s1
    kind: storage
  - id: c1
    kind: compute
    depends_on: [s1, n1, s1]
`
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	c1 := m.Resources[2]
	if len(c1.DependsOn) != 2 || c1.DependsOn[0] != "n1" || c1.DependsOn[1] != "s1" {
		t.Errorf("DependsOn = %v, want [n1 s1]", c1.DependsOn)
	}
}
