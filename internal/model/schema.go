package model

import "time"

// ColumnDescriptor describes one queryable column.
type ColumnDescriptor struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Caveat      string `json:"caveat,omitempty"`
}

// TableDescriptor describes one queryable table or view.
type TableDescriptor struct {
	Name        string             `json:"name"`
	Kind        string             `json:"kind"`
	Description string             `json:"description,omitempty"`
	UseFor      string             `json:"use_for,omitempty"`
	Columns     []ColumnDescriptor `json:"columns"`
	Caveats     []string           `json:"caveats,omitempty"`
}

// SchemaDescriptor is the current queryable surface, rebuilt per request.
type SchemaDescriptor struct {
	Tables   []TableDescriptor `json:"tables"`
	Guidance []string          `json:"guidance,omitempty"`
	Text     string            `json:"text"`
	BuiltAt  time.Time         `json:"built_at"`
}

// Table returns the named table, or nil.
func (d *SchemaDescriptor) Table(name string) *TableDescriptor {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}

// HasColumn reports whether table.column is part of the descriptor.
func (d *SchemaDescriptor) HasColumn(table, column string) bool {
	t := d.Table(table)
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c.Name == column {
			return true
		}
	}
	return false
}
