package layout

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed or unreadable GDSII stream.
type ParseError struct {
	File    string
	Offset  int64
	Message string
}

func (e *ParseError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s: offset %d: %s", e.File, e.Offset, e.Message)
}

// TopCellMismatchError is returned when the top cell of a layout is not the
// expected one, or when the layout has more than one top cell.
type TopCellMismatchError struct {
	File     string
	Expected string
	Found    []string
}

func (e *TopCellMismatchError) Error() string {
	if len(e.Found) == 1 {
		return fmt.Sprintf("%s: top cell is %s, expected %s", e.File, e.Found[0], e.Expected)
	}
	return fmt.Sprintf("%s: %d top cells (%s), expected only %s",
		e.File, len(e.Found), strings.Join(e.Found, ", "), e.Expected)
}

// CellDefect says why a child cell cannot be trusted.
type CellDefect string

const (
	// Empty cells are defined but hold no shapes and no references.
	Empty CellDefect = "empty"
	// Ghost cells are referenced but never defined.
	Ghost CellDefect = "ghost"
)

// EmptyOrGhostCellError names the first child of the top cell that is empty
// or a ghost.
type EmptyOrGhostCellError struct {
	File string
	Cell string
	Kind CellDefect
}

func (e *EmptyOrGhostCellError) Error() string {
	return fmt.Sprintf("%s: child cell %s is %s", e.File, e.Cell, e.Kind)
}
