package session

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned for work submitted after EndSession.
var ErrSessionClosed = errors.New("session: closed")

// SymbolNotFoundError reports a name no scope in the search order defines.
type SymbolNotFoundError struct {
	Name   string
	Scopes []string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %q not found in %v", e.Name, e.Scopes)
}

// MaterializationError reports a unit that failed to produce its symbols.
// Every later lookup of the unit's symbols returns the same error.
type MaterializationError struct {
	Unit   string
	Symbol string
	Err    error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize %s (for %s): %v", e.Unit, e.Symbol, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// DuplicateDefinitionError reports a name already defined in a library.
type DuplicateDefinitionError struct {
	Name    string
	Library string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("symbol %q already defined in %s", e.Name, e.Library)
}
