package graph

import (
	"fmt"
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/mitchellh/mapstructure"

	"cmsquery/internal/cursor"
	"cmsquery/internal/queryargs"
)

// Args are the raw arguments of one selection field.
type Args struct {
	Filters    []queryargs.Filter
	Sorts      []queryargs.Sort
	Pagination queryargs.Pagination
	Span       cursor.Span
}

// IsEmpty reports whether no argument was given.
func (a Args) IsEmpty() bool {
	return len(a.Filters) == 0 && len(a.Sorts) == 0 && a.Pagination.IsEmpty() && a.Span.IsEmpty()
}

type rawArgs struct {
	Limit  string             `mapstructure:"limit"`
	Offset string             `mapstructure:"offset"`
	First  string             `mapstructure:"first"`
	Last   string             `mapstructure:"last"`
	Sort   any                `mapstructure:"sort"`
	Filter []queryargs.Filter `mapstructure:"filter"`
}

// DecodeArgs converts field arguments into raw query arguments. GraphQL
// variables become `$name` references and are substituted at execution.
func DecodeArgs(field *ast.Field) (Args, error) {
	if len(field.Arguments) == 0 {
		return Args{}, nil
	}
	input := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		input[arg.Name.Value] = literal(arg.Value)
	}

	var raw rawArgs
	if err := decode(input, &raw); err != nil {
		return Args{}, fmt.Errorf("arguments of %s: %w", field.Name.Value, err)
	}

	args := Args{
		Filters:    raw.Filter,
		Pagination: queryargs.Pagination{Offset: raw.Offset, Limit: raw.Limit},
		Span:       cursor.Span{First: raw.First, Last: raw.Last},
	}
	switch sort := raw.Sort.(type) {
	case nil:
	case string:
		args.Sorts = queryargs.ParseSortShorthand(sort)
	case map[string]any:
		var s queryargs.Sort
		if err := decode(sort, &s); err != nil {
			return Args{}, fmt.Errorf("sort of %s: %w", field.Name.Value, err)
		}
		args.Sorts = []queryargs.Sort{s}
	case []any:
		if err := decode(sort, &args.Sorts); err != nil {
			return Args{}, fmt.Errorf("sort of %s: %w", field.Name.Value, err)
		}
	default:
		return Args{}, fmt.Errorf("sort of %s: unsupported value %T", field.Name.Value, sort)
	}
	return args, nil
}

func decode(input, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// literal converts an argument value. Scalars stay strings so values are
// cast by attribute type later, not by GraphQL literal kind.
func literal(v ast.Value) any {
	switch val := v.(type) {
	case *ast.Variable:
		return "$" + val.Name.Value
	case *ast.IntValue:
		return val.Value
	case *ast.FloatValue:
		return val.Value
	case *ast.StringValue:
		return val.Value
	case *ast.BooleanValue:
		return strconv.FormatBool(val.Value)
	case *ast.EnumValue:
		return val.Value
	case *ast.ListValue:
		out := make([]any, len(val.Values))
		for i, item := range val.Values {
			out[i] = literal(item)
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(val.Fields))
		for _, f := range val.Fields {
			out[f.Name.Value] = literal(f.Value)
		}
		return out
	default:
		return nil
	}
}
