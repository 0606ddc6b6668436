package ledger

import "fmt"

// UnknownEntityError reports a record call against a key the catalog does not
// contain. Nothing is mutated when it is returned.
type UnknownEntityError struct {
	Kind string // "establishment", "faction", "product"
	Key  string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("ledger: unknown %s %q", e.Kind, e.Key)
}

// ValidationError reports malformed caller input (empty participant list,
// non-positive quantity, and so on).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "ledger: " + e.Msg }
