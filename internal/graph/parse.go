package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// ErrSyntax is returned for selections that cannot be parsed.
var ErrSyntax = errors.New("invalid selection")

// ParseSelection parses a field selection such as `id title tags { name }`.
// A braced selection or a full query document is accepted as well.
func ParseSelection(text string) ([]*ast.Field, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if !isDocument(text) {
		text = "{ " + text + " }"
	}
	op, err := parseOperation(text)
	if err != nil {
		return nil, err
	}
	return fields(op.SelectionSet)
}

func isDocument(text string) bool {
	if strings.HasPrefix(text, "{") {
		return true
	}
	for _, keyword := range []string{"query", "mutation", "subscription", "fragment"} {
		if rest, ok := strings.CutPrefix(text, keyword); ok && (rest == "" || strings.ContainsAny(rest[:1], " \t\n\r{(")) {
			return true
		}
	}
	return false
}

// ParseRoot parses a document with exactly one top-level field, the form
// used by named query sources: `{ posts(limit: 5) { id title } }`.
func ParseRoot(text string) (*ast.Field, error) {
	op, err := parseOperation(text)
	if err != nil {
		return nil, err
	}
	roots, err := fields(op.SelectionSet)
	if err != nil {
		return nil, err
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("%w: expected one root field, got %d", ErrSyntax, len(roots))
	}
	return roots[0], nil
}

func parseOperation(text string) (*ast.OperationDefinition, error) {
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(text),
			Name: "selection",
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	var op *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			if op != nil {
				return nil, fmt.Errorf("%w: multiple operations", ErrSyntax)
			}
			op = d
		default:
			return nil, fmt.Errorf("%w: only a single query is supported", ErrSyntax)
		}
	}
	if op == nil {
		return nil, fmt.Errorf("%w: no query", ErrSyntax)
	}
	if op.Operation != ast.OperationTypeQuery {
		return nil, fmt.Errorf("%w: %s operations are not supported", ErrSyntax, op.Operation)
	}
	return op, nil
}

// fields flattens a selection set, inlining inline fragments.
func fields(set *ast.SelectionSet) ([]*ast.Field, error) {
	if set == nil {
		return nil, nil
	}
	var out []*ast.Field
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			out = append(out, sel)
		case *ast.InlineFragment:
			nested, err := fields(sel.SelectionSet)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case *ast.FragmentSpread:
			return nil, fmt.Errorf("%w: fragment spreads are not supported", ErrSyntax)
		}
	}
	return out, nil
}
