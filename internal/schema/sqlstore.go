package schema

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/entity"
)

// Schema record types stored in the schema table.
const (
	schemaTypeEntity = "entity"
	schemaTypeQuery  = "query"
)

// DefaultSchemaTable stores versioned schema documents.
const DefaultSchemaTable = "__schemas"

// RowRunner is the subset of dbexec.Executor the SQL provider needs.
type RowRunner interface {
	RunMany(ctx context.Context, query sq.Sqlizer) ([]map[string]any, error)
}

// SQLProvider reads versioned schema documents from a table with columns
// id, name, type, settings (JSON), publication_status, deleted. The highest
// id wins for each name.
type SQLProvider struct {
	runner  RowRunner
	table   string
	builder sq.StatementBuilderType
}

// NewSQLProvider creates a provider reading from table using the given
// placeholder format.
func NewSQLProvider(runner RowRunner, table string, placeholders sq.PlaceholderFormat) *SQLProvider {
	if table == "" {
		table = DefaultSchemaTable
	}
	return &SQLProvider{
		runner:  runner,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholders),
	}
}

func (p *SQLProvider) baseQuery(schemaType string, status entity.PublicationStatus) sq.SelectBuilder {
	query := p.builder.
		Select("name", "settings").
		From(p.table).
		Where(sq.Eq{"type": schemaType, "deleted": false})
	if status == entity.StatusPublished {
		query = query.Where(sq.Eq{"publication_status": string(entity.StatusPublished)})
	}
	return query
}

func (p *SQLProvider) latest(ctx context.Context, schemaType, name string, status entity.PublicationStatus) (string, error) {
	query := p.baseQuery(schemaType, status).
		Where(sq.Eq{"name": name}).
		OrderBy("id DESC").
		Limit(1)
	rows, err := p.runner.RunMany(ctx, query)
	if err != nil {
		return "", fmt.Errorf("load %s %s: %w", schemaType, name, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("%s %q: %w", schemaType, name, entity.ErrNotFound)
	}
	settings, ok := rows[0]["settings"].(string)
	if !ok {
		return "", fmt.Errorf("%s %q: settings column is not text", schemaType, name)
	}
	return settings, nil
}

func (p *SQLProvider) GetEntityDefinition(ctx context.Context, name string, status entity.PublicationStatus) (*entity.Entity, error) {
	settings, err := p.latest(ctx, schemaTypeEntity, name, status)
	if err != nil {
		return nil, err
	}
	var def entity.Entity
	if err := json.Unmarshal([]byte(settings), &def); err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", name, err)
	}
	return &def, nil
}

func (p *SQLProvider) ListEntityDefinitions(ctx context.Context, status entity.PublicationStatus) ([]*entity.Entity, error) {
	query := p.baseQuery(schemaTypeEntity, status).OrderBy("name", "id DESC")
	rows, err := p.runner.RunMany(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	seen := make(map[string]struct{}, len(rows))
	defs := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		name := fmt.Sprint(row["name"])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		settings, _ := row["settings"].(string)
		var def entity.Entity
		if err := json.Unmarshal([]byte(settings), &def); err != nil {
			return nil, fmt.Errorf("decode entity %s: %w", name, err)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

func (p *SQLProvider) GetQueryDefinition(ctx context.Context, name string, status entity.PublicationStatus) (*QueryDef, error) {
	settings, err := p.latest(ctx, schemaTypeQuery, name, status)
	if err != nil {
		return nil, err
	}
	var def QueryDef
	if err := json.Unmarshal([]byte(settings), &def); err != nil {
		return nil, fmt.Errorf("decode query %s: %w", name, err)
	}
	return &def, nil
}
