package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the single payload carried by a ValidValue.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindString
	KindInt
	KindDatetime
	// KindVariable marks a deferred "$name" reference resolved at request time.
	KindVariable
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDatetime:
		return "datetime"
	case KindVariable:
		return "variable"
	default:
		return "invalid"
	}
}

// ValidValue is a type-checked filter or cursor value. It holds exactly one of
// a string, an integer, a datetime, or an unresolved variable name.
type ValidValue struct {
	kind ValueKind
	str  string
	num  int64
	at   time.Time
}

func StringValue(s string) ValidValue      { return ValidValue{kind: KindString, str: s} }
func IntValue(n int64) ValidValue          { return ValidValue{kind: KindInt, num: n} }
func DatetimeValue(t time.Time) ValidValue { return ValidValue{kind: KindDatetime, at: t} }

// VariableValue defers a value to the request's argument map.
func VariableValue(name string) ValidValue { return ValidValue{kind: KindVariable, str: name} }

func (v ValidValue) Kind() ValueKind    { return v.kind }
func (v ValidValue) IsVariable() bool   { return v.kind == KindVariable }
func (v ValidValue) VariableName() string {
	if v.kind != KindVariable {
		return ""
	}
	return v.str
}

// Any returns the payload as a SQL argument.
func (v ValidValue) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindDatetime:
		return v.at
	default:
		return nil
	}
}

// String renders the payload the way cursors and logs carry it.
func (v ValidValue) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindDatetime:
		return v.at.Format(time.RFC3339Nano)
	case KindVariable:
		return "$" + v.str
	default:
		return ""
	}
}

type validValueJSON struct {
	S   *string `json:"s,omitempty"`
	I   *int64  `json:"i,omitempty"`
	D   *string `json:"d,omitempty"`
	Var *string `json:"var,omitempty"`
}

// MarshalJSON keeps the type tag so a value never decodes as a different kind.
func (v ValidValue) MarshalJSON() ([]byte, error) {
	var out validValueJSON
	switch v.kind {
	case KindString:
		out.S = &v.str
	case KindInt:
		out.I = &v.num
	case KindDatetime:
		formatted := v.at.Format(time.RFC3339Nano)
		out.D = &formatted
	case KindVariable:
		out.Var = &v.str
	default:
		return nil, errors.New("cannot marshal invalid value")
	}
	return json.Marshal(out)
}

func (v *ValidValue) UnmarshalJSON(data []byte) error {
	var in validValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.S != nil:
		*v = StringValue(*in.S)
	case in.I != nil:
		*v = IntValue(*in.I)
	case in.D != nil:
		t, err := time.Parse(time.RFC3339Nano, *in.D)
		if err != nil {
			return fmt.Errorf("invalid datetime value: %w", err)
		}
		*v = DatetimeValue(t)
	case in.Var != nil:
		*v = VariableValue(*in.Var)
	default:
		return errors.New("value has no payload")
	}
	return nil
}

// CastError reports a raw value that does not fit the attribute's type.
type CastError struct {
	Field string
	Value string
	Type  DataType
	Err   error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %q to %s for field %s", e.Value, e.Type, e.Field)
}

func (e *CastError) Unwrap() error { return e.Err }

var localDatetimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Cast converts a raw string into a ValidValue of the attribute's type.
// Ints parse as base-10 integers; datetimes accept RFC 3339 (normalized to
// UTC when the input carries a "Z" marker) or a local layout; everything
// else passes through as a string.
func Cast(attr *LoadedAttribute, raw string) (ValidValue, error) {
	switch attr.ValueType() {
	case DataTypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return ValidValue{}, &CastError{Field: attr.Field, Value: raw, Type: DataTypeInt, Err: err}
		}
		return IntValue(n), nil
	case DataTypeDatetime:
		t, err := ParseDatetime(raw)
		if err != nil {
			return ValidValue{}, &CastError{Field: attr.Field, Value: raw, Type: DataTypeDatetime, Err: err}
		}
		return DatetimeValue(t), nil
	default:
		return StringValue(raw), nil
	}
}

// ParseDatetime parses the datetime forms accepted in requests.
func ParseDatetime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		if strings.HasSuffix(raw, "Z") || strings.HasSuffix(raw, "z") {
			return t.UTC(), nil
		}
		return t, nil
	}
	for _, layout := range localDatetimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", raw)
}
