package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog annotates the fixed queryable surface.
type Catalog struct {
	Tables   []CatalogTable `yaml:"tables"`
	Guidance []string       `yaml:"guidance"`
}

// CatalogTable describes one queryable relation.
type CatalogTable struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	UseFor      string                `yaml:"use_for"`
	Caveats     []string              `yaml:"caveats"`
	Columns     map[string]ColumnNote `yaml:"columns"`
}

// ColumnNote is a column's semantic description and optional caveat. In
// YAML it is either a plain string or a mapping.
type ColumnNote struct {
	Description string `yaml:"description"`
	Caveat      string `yaml:"caveat"`
}

// UnmarshalYAML accepts the short string form.
func (n *ColumnNote) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n.Description = node.Value
		return nil
	}
	type plain ColumnNote
	return node.Decode((*plain)(n))
}

// LoadCatalog parses the embedded catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

// ParseCatalog parses a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("parse catalog: no tables")
	}
	seen := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("parse catalog: table without name")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("parse catalog: duplicate table %s", t.Name)
		}
		seen[t.Name] = true
	}
	return &c, nil
}

// dialectHints fills dialect-specific wording in guidance lines.
type dialectHints struct {
	CaseInsensitive string
}

func hintsFor(dialect string) dialectHints {
	if dialect == "postgres" {
		return dialectHints{CaseInsensitive: "use ILIKE"}
	}
	return dialectHints{CaseInsensitive: "use LOWER(column) LIKE LOWER('%value%')"}
}

// renderGuidance expands dialect placeholders in guidance lines.
func (c *Catalog) renderGuidance(dialect string) ([]string, error) {
	hints := hintsFor(dialect)
	out := make([]string, 0, len(c.Guidance))
	for i, g := range c.Guidance {
		tmpl, err := template.New(fmt.Sprintf("guidance%d", i)).Parse(g)
		if err != nil {
			return nil, fmt.Errorf("guidance %d: %w", i, err)
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, hints); err != nil {
			return nil, fmt.Errorf("guidance %d: %w", i, err)
		}
		out = append(out, b.String())
	}
	return out, nil
}
