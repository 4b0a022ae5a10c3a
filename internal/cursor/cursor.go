// Package cursor implements span-based keyset pagination: opaque cursor
// tokens built from a row's sort-key values, page trimming, and the
// has-next / has-previous flags.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidCursor is returned for tokens that cannot be decoded or do not
// belong to the current query.
var ErrInvalidCursor = errors.New("invalid cursor")

const payloadVersion = 3

type payload struct {
	Version  int      `json:"v"`
	Entity   string   `json:"e"`
	SortKey  string   `json:"k"`
	Values   []string `json:"vals"`
	ParentID string   `json:"p,omitempty"`
}

// Token is a decoded cursor.
type Token struct {
	Entity  string
	SortKey string
	// Values are the string-coerced sort-key values of the boundary row.
	Values []string
	// ParentID is set for pages of a nested relation list.
	ParentID string
}

// Encode builds an opaque cursor for a row. Values are string-coerced for
// JSON safety (avoids float64 to int64 precision loss). parentID may be nil.
func Encode(entityName, sortKey string, values []any, parentID any) string {
	stringValues := make([]string, 0, len(values))
	for _, v := range values {
		stringValues = append(stringValues, coerceToString(v))
	}
	p := payload{
		Version: payloadVersion,
		Entity:  entityName,
		SortKey: sortKey,
		Values:  stringValues,
	}
	if parentID != nil {
		p.ParentID = coerceToString(parentID)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses a cursor token.
func Decode(raw string) (Token, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Token{}, fmt.Errorf("%w: not base64", ErrInvalidCursor)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Token{}, fmt.Errorf("%w: malformed payload", ErrInvalidCursor)
	}
	if p.Version != payloadVersion {
		return Token{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidCursor, p.Version)
	}
	if p.Entity == "" || p.SortKey == "" {
		return Token{}, fmt.Errorf("%w: missing entity or sort key", ErrInvalidCursor)
	}
	if len(p.Values) == 0 {
		return Token{}, fmt.Errorf("%w: missing values", ErrInvalidCursor)
	}
	return Token{Entity: p.Entity, SortKey: p.SortKey, Values: p.Values, ParentID: p.ParentID}, nil
}

// Validate confirms the token was issued for the same entity and ordering.
func (t Token) Validate(entityName, sortKey string, valueCount int) error {
	if t.Entity != entityName {
		return fmt.Errorf("%w: entity mismatch: expected %s, got %s", ErrInvalidCursor, entityName, t.Entity)
	}
	if t.SortKey != sortKey {
		return fmt.Errorf("%w: sort mismatch: expected %s, got %s", ErrInvalidCursor, sortKey, t.SortKey)
	}
	if len(t.Values) != valueCount {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInvalidCursor, valueCount, len(t.Values))
	}
	return nil
}

func coerceToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
