package labels

import "fmt"

// ScopeKind is the print-scope state.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeAll
	ScopeSingle
)

// Scope selects which labels are print-visible. Index is meaningful only for
// ScopeSingle.
type Scope struct {
	Kind  ScopeKind `json:"kind"`
	Index int       `json:"index"`
}

// Fixed scopes.
var (
	NoScope  = Scope{Kind: ScopeNone}
	AllScope = Scope{Kind: ScopeAll}
)

// Single scopes printing to the label at index i.
func Single(i int) Scope { return Scope{Kind: ScopeSingle, Index: i} }

// Includes reports whether label i is print-visible under s.
func (s Scope) Includes(i int) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeSingle:
		return s.Index == i
	default:
		return false
	}
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeAll:
		return "all"
	case ScopeSingle:
		return fmt.Sprintf("single(%d)", s.Index)
	default:
		return "none"
	}
}

func (k ScopeKind) MarshalText() ([]byte, error) {
	switch k {
	case ScopeAll:
		return []byte("all"), nil
	case ScopeSingle:
		return []byte("single"), nil
	default:
		return []byte("none"), nil
	}
}
