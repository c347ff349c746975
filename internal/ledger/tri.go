package ledger

import (
	"database/sql"
	"fmt"
)

// Tri is a three-valued fact: unknown, true or false.
type Tri int

const (
	Unknown Tri = iota
	True
	False
)

// TriFromBool converts a known boolean.
func TriFromBool(b bool) Tri {
	if b {
		return True
	}
	return False
}

// Known reports whether the value is true or false.
func (t Tri) Known() bool {
	return t == True || t == False
}

// String returns "yes", "no" or "unknown".
func (t Tri) String() string {
	switch t {
	case True:
		return "yes"
	case False:
		return "no"
	default:
		return "unknown"
	}
}

// MarshalText renders the value for JSON output.
func (t Tri) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts what MarshalText produces. Empty input is Unknown.
func (t *Tri) UnmarshalText(text []byte) error {
	switch string(text) {
	case "yes":
		*t = True
	case "no":
		*t = False
	case "unknown", "":
		*t = Unknown
	default:
		return fmt.Errorf("invalid tri-state value %q", text)
	}
	return nil
}

// value maps to a nullable INTEGER column.
func (t Tri) value() interface{} {
	switch t {
	case True:
		return 1
	case False:
		return 0
	default:
		return nil
	}
}

func triFromNull(n sql.NullInt64) Tri {
	if !n.Valid {
		return Unknown
	}
	return TriFromBool(n.Int64 != 0)
}
