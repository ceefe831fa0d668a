package layout

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
)

var fs = afs.New()

// Hierarchy is the two-level cell tree below the top cell of a layout.
type Hierarchy struct {
	TopCell    string              `json:"top_cell"`
	ChildCells []string            `json:"child_cells"`
	Subcells   map[string][]string `json:"subcells"`
}

// Grandchildren returns the children of cell when cell is a child of the top
// cell, and an empty list otherwise.
func (h *Hierarchy) Grandchildren(cell string) []string {
	if h == nil {
		return []string{}
	}
	if children, ok := h.Subcells[cell]; ok {
		return append([]string{}, children...)
	}
	return []string{}
}

// Parse reads the GDSII stream at path (plain or .gz, local path or URL) and
// returns the hierarchy below its top cell. The top cell must be unique and
// named expectedTop. Every child of the top cell must be defined and hold at
// least one shape or reference.
func Parse(ctx context.Context, path, expectedTop string) (*Hierarchy, error) {
	src, err := read(ctx, path)
	if err != nil {
		return nil, err
	}
	lib, err := decodeLibrary(path, src)
	if err != nil {
		return nil, err
	}

	tops := lib.topCells()
	switch {
	case len(tops) == 0:
		return nil, &ParseError{File: path, Offset: -1, Message: "layout has no top cell"}
	case len(tops) > 1 || tops[0] != expectedTop:
		return nil, &TopCellMismatchError{File: path, Expected: expectedTop, Found: tops}
	}

	h := &Hierarchy{
		TopCell:    tops[0],
		ChildCells: lib.children(tops[0]),
		Subcells:   make(map[string][]string),
	}
	for _, child := range h.ChildCells {
		c := lib.cells[child]
		switch {
		case !c.defined:
			return nil, &EmptyOrGhostCellError{File: path, Cell: child, Kind: Ghost}
		case c.shapes == 0 && len(c.refs) == 0:
			return nil, &EmptyOrGhostCellError{File: path, Cell: child, Kind: Empty}
		}
		h.Subcells[child] = lib.children(child)
	}
	return h, nil
}

func read(ctx context.Context, path string) ([]byte, error) {
	location := path
	if !strings.Contains(path, "://") {
		if abs, err := filepath.Abs(path); err == nil {
			location = abs
		}
	}
	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, &ParseError{File: path, Offset: -1, Message: fmt.Sprintf("reading layout: %v", err)}
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{File: path, Offset: -1, Message: fmt.Sprintf("opening gzip stream: %v", err)}
	}
	defer zr.Close()
	data, err = io.ReadAll(zr)
	if err != nil {
		return nil, &ParseError{File: path, Offset: -1, Message: fmt.Sprintf("decompressing: %v", err)}
	}
	return data, nil
}
