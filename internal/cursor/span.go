package cursor

// Span carries the boundary cursors of a page request. Last continues
// forward after a row; First continues backward before a row.
type Span struct {
	First string `json:"first,omitempty" mapstructure:"first"`
	Last  string `json:"last,omitempty" mapstructure:"last"`
}

// IsEmpty reports whether no cursor was supplied.
func (s Span) IsEmpty() bool {
	return s.First == "" && s.Last == ""
}

// IsForward reports the paging direction. Forward is the default; a First
// cursor without a Last switches to backward.
func (s Span) IsForward() bool {
	return s.Last != "" || s.First == ""
}

// Active returns the token that drives the keyset predicate.
func (s Span) Active() string {
	if s.IsForward() {
		return s.Last
	}
	return s.First
}

// Flags computes hasPrevious and hasNext for a span page. more reports
// whether the query returned the extra plus-one row.
//
//	first last | more  | hasPrevious hasNext
//	  -    -   | no    | false       false
//	  -    -   | yes   | false       true
//	  -    L   | no    | true        false
//	  -    L   | yes   | true        true
//	  F    -   | no    | false       true
//	  F    -   | yes   | true        true
//	  F    L   | no    | true        false
//	  F    L   | yes   | true        true
func Flags(s Span, more bool) (hasPrevious, hasNext bool) {
	switch {
	case s.IsEmpty():
		return false, more
	case s.IsForward():
		return true, more
	default:
		return more, true
	}
}

// OffsetFlags computes the flags for plain offset paging.
func OffsetFlags(offset int, more bool) (hasPrevious, hasNext bool) {
	return offset > 0, more
}

// TrimPage drops the plus-one row when present and restores display order
// for backward pages, whose rows arrive in reversed sort order.
func TrimPage[T any](rows []T, limit int, backward bool) ([]T, bool) {
	more := limit > 0 && len(rows) > limit
	if more {
		rows = rows[:limit]
	}
	if backward {
		reversed := make([]T, len(rows))
		for i, row := range rows {
			reversed[len(rows)-1-i] = row
		}
		rows = reversed
	}
	return rows, more
}
