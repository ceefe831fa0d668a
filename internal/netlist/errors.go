package netlist

import "fmt"

// ParseError reports a netlist that could not be tokenized, preprocessed or parsed.
type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func parseErrorf(file string, line int, format string, args ...any) *ParseError {
	return &ParseError{File: file, Line: line, Message: fmt.Sprintf(format, args...)}
}

// ModuleNotFoundError reports that no module or subcircuit of the requested
// name exists in the translation unit.
type ModuleNotFoundError struct {
	File   string
	Module string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("%s: module %q not found", e.File, e.Module)
}
