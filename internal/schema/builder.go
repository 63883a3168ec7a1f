// Package schema builds the schema description injected into prompts.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/store"
	"github.com/playintel/market-analyst/pkg/logger"
)

// ErrNoTables is returned when none of the catalog tables exist live.
var ErrNoTables = errors.New("schema: no queryable tables found")

// Builder produces a SchemaDescriptor from live metadata on every call.
type Builder struct {
	introspector store.Introspector
	catalog      *Catalog
	dialect      string
	logger       *logger.Logger
	now          func() time.Time
}

// NewBuilder creates a builder over the embedded catalog.
func NewBuilder(in store.Introspector, dialect string, log *logger.Logger) (*Builder, error) {
	catalog, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	return NewBuilderWithCatalog(in, catalog, dialect, log), nil
}

// NewBuilderWithCatalog creates a builder over an explicit catalog.
func NewBuilderWithCatalog(in store.Introspector, catalog *Catalog, dialect string, log *logger.Logger) *Builder {
	return &Builder{
		introspector: in,
		catalog:      catalog,
		dialect:      dialect,
		logger:       log.Named("schema"),
		now:          time.Now,
	}
}

// Build introspects the live schema and annotates the catalog tables found.
// Nothing is cached, so column changes show up on the next request.
func (b *Builder) Build(ctx context.Context) (*model.SchemaDescriptor, error) {
	live, err := b.introspector.Columns(ctx)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}

	byTable := make(map[string][]store.ColumnInfo)
	for _, c := range live {
		byTable[c.Table] = append(byTable[c.Table], c)
	}

	desc := &model.SchemaDescriptor{BuiltAt: b.now().UTC()}
	for _, ct := range b.catalog.Tables {
		cols, ok := byTable[ct.Name]
		if !ok {
			b.logger.Debug("catalog table not present", zap.String("table", ct.Name))
			continue
		}
		td := model.TableDescriptor{
			Name:        ct.Name,
			Kind:        cols[0].Kind,
			Description: ct.Description,
			UseFor:      ct.UseFor,
			Caveats:     ct.Caveats,
		}
		for _, c := range cols {
			note := ct.Columns[c.Name]
			td.Columns = append(td.Columns, model.ColumnDescriptor{
				Name:        c.Name,
				Type:        c.Type,
				Description: note.Description,
				Caveat:      note.Caveat,
			})
		}
		desc.Tables = append(desc.Tables, td)
	}
	if len(desc.Tables) == 0 {
		return nil, ErrNoTables
	}

	desc.Guidance, err = b.catalog.renderGuidance(b.dialect)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	desc.Text = Render(desc, b.dialect)
	return desc, nil
}

// Render formats a descriptor as prompt text. Output depends only on the
// descriptor contents and dialect.
func Render(d *model.SchemaDescriptor, dialect string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dialect: %s\n", dialectName(dialect))

	for _, t := range d.Tables {
		fmt.Fprintf(&sb, "\n%s (%s)", t.Name, t.Kind)
		if t.Description != "" {
			fmt.Fprintf(&sb, ": %s", t.Description)
		}
		sb.WriteByte('\n')
		if t.UseFor != "" {
			fmt.Fprintf(&sb, "  Use for: %s\n", t.UseFor)
		}
		for _, c := range t.Columns {
			fmt.Fprintf(&sb, "  - %s", c.Name)
			if c.Type != "" {
				fmt.Fprintf(&sb, " [%s]", c.Type)
			}
			if c.Description != "" {
				fmt.Fprintf(&sb, ": %s", c.Description)
			}
			if c.Caveat != "" {
				fmt.Fprintf(&sb, " Caveat: %s", c.Caveat)
			}
			sb.WriteByte('\n')
		}
		for _, cv := range t.Caveats {
			fmt.Fprintf(&sb, "  Note: %s\n", cv)
		}
	}

	if len(d.Guidance) > 0 {
		sb.WriteString("\nRules:\n")
		for _, g := range d.Guidance {
			fmt.Fprintf(&sb, "- %s\n", g)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func dialectName(dialect string) string {
	switch dialect {
	case store.DriverPostgres:
		return "PostgreSQL"
	case store.DriverSQLite:
		return "SQLite"
	default:
		return dialect
	}
}
