package layout

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// gdsBuilder writes a minimal GDSII stream record by record.
type gdsBuilder struct {
	buf bytes.Buffer
}

func newGDS() *gdsBuilder {
	b := &gdsBuilder{}
	b.record(recHeader, 0x02, []byte{0x02, 0x58})
	b.record(recBgnLib, 0x02, make([]byte, 24))
	b.record(recLibName, 0x06, padded("lib"))
	b.record(recUnits, 0x05, make([]byte, 16))
	return b
}

func padded(s string) []byte {
	data := []byte(s)
	if len(data)%2 != 0 {
		data = append(data, 0)
	}
	return data
}

func (b *gdsBuilder) record(kind, dtype byte, data []byte) *gdsBuilder {
	var header [4]byte
	binary.BigEndian.PutUint16(header[:], uint16(4+len(data)))
	header[2], header[3] = kind, dtype
	b.buf.Write(header[:])
	b.buf.Write(data)
	return b
}

// cell writes a structure with the given number of boundaries and one SREF
// per entry of refs.
func (b *gdsBuilder) cell(name string, shapes int, refs ...string) *gdsBuilder {
	b.record(recBgnStr, 0x02, make([]byte, 24))
	b.record(recStrName, 0x06, padded(name))
	for i := 0; i < shapes; i++ {
		b.record(recBoundary, 0x00, nil)
		b.record(0x0D, 0x02, []byte{0, 1}) // LAYER
		b.record(0x10, 0x03, make([]byte, 40))
		b.record(recEndEl, 0x00, nil)
	}
	for _, ref := range refs {
		b.record(recSRef, 0x00, nil)
		b.record(recSName, 0x06, padded(ref))
		b.record(0x10, 0x03, make([]byte, 8))
		b.record(recEndEl, 0x00, nil)
	}
	b.record(recEndStr, 0x00, nil)
	return b
}

func (b *gdsBuilder) bytes() []byte {
	b.record(recEndLib, 0x00, nil)
	return b.buf.Bytes()
}

func writeGDS(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func wrapperGDS() []byte {
	return newGDS().
		cell("sky130_fd_sc_hd__inv_1", 3).
		cell("user_proj_example", 1, "sky130_fd_sc_hd__inv_1", "sky130_fd_sc_hd__inv_1").
		cell("user_project_wrapper", 2, "user_proj_example", "sky130_fd_sc_hd__inv_1", "user_proj_example").
		bytes()
}

func TestParseHierarchy(t *testing.T) {
	path := writeGDS(t, "user_project_wrapper.gds", wrapperGDS())

	h, err := Parse(context.Background(), path, "user_project_wrapper")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.TopCell != "user_project_wrapper" {
		t.Fatalf("expected top cell user_project_wrapper, got %q", h.TopCell)
	}
	if want := []string{"user_proj_example", "sky130_fd_sc_hd__inv_1"}; !reflect.DeepEqual(h.ChildCells, want) {
		t.Fatalf("expected children %v, got %v", want, h.ChildCells)
	}
	if got := h.Grandchildren("user_proj_example"); !reflect.DeepEqual(got, []string{"sky130_fd_sc_hd__inv_1"}) {
		t.Fatalf("expected grandchildren [sky130_fd_sc_hd__inv_1], got %v", got)
	}
	if got := h.Grandchildren("sky130_fd_sc_hd__inv_1"); len(got) != 0 {
		t.Fatalf("expected leaf cell to have no grandchildren, got %v", got)
	}
	if got := h.Grandchildren("not_a_child"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list for unknown cell, got %#v", got)
	}
}

func TestParseGzipLayout(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(wrapperGDS()); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	path := writeGDS(t, "user_project_wrapper.gds.gz", buf.Bytes())

	h, err := Parse(context.Background(), path, "user_project_wrapper")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(h.ChildCells) != 2 {
		t.Fatalf("expected 2 children, got %v", h.ChildCells)
	}
}

func TestParseTopCellMismatch(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		found []string
	}{
		{
			name:  "wrong name",
			data:  newGDS().cell("leaf", 1).cell("caravel", 0, "leaf").bytes(),
			found: []string{"caravel"},
		},
		{
			name:  "two top cells",
			data:  newGDS().cell("leaf", 1).cell("user_project_wrapper", 0, "leaf").cell("orphan", 1).bytes(),
			found: []string{"user_project_wrapper", "orphan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeGDS(t, "top.gds", tt.data)
			_, err := Parse(context.Background(), path, "user_project_wrapper")
			var mismatch *TopCellMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("expected TopCellMismatchError, got %v", err)
			}
			if !reflect.DeepEqual(mismatch.Found, tt.found) {
				t.Fatalf("expected found %v, got %v", tt.found, mismatch.Found)
			}
		})
	}
}

func TestParseEmptyOrGhostChild(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		cell string
		kind CellDefect
	}{
		{
			name: "empty child",
			data: newGDS().cell("decap_0", 0).cell("top", 1, "decap_0").bytes(),
			cell: "decap_0",
			kind: Empty,
		},
		{
			name: "ghost child",
			data: newGDS().cell("top", 1, "phantom").bytes(),
			cell: "phantom",
			kind: Ghost,
		},
		{
			name: "ghost reported before a later empty child",
			data: newGDS().cell("hollow", 0).cell("top", 0, "phantom", "hollow").bytes(),
			cell: "phantom",
			kind: Ghost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeGDS(t, "top.gds", tt.data)
			_, err := Parse(context.Background(), path, "top")
			var defect *EmptyOrGhostCellError
			if !errors.As(err, &defect) {
				t.Fatalf("expected EmptyOrGhostCellError, got %v", err)
			}
			if defect.Cell != tt.cell || defect.Kind != tt.kind {
				t.Fatalf("expected %s cell %s, got %s cell %s", tt.kind, tt.cell, defect.Kind, defect.Cell)
			}
		})
	}
}

func TestParseMalformedStream(t *testing.T) {
	truncated := newGDS().cell("top", 1).buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not gds", data: []byte("module top; endmodule\n")},
		{name: "missing endlib", data: truncated},
		{name: "odd record length", data: []byte{0x00, 0x05, recHeader, 0x02, 0x00}},
		{name: "element outside structure", data: newGDS().record(recBoundary, 0, nil).bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeGDS(t, "bad.gds", tt.data)
			_, err := Parse(context.Background(), path, "top")
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse(context.Background(), filepath.Join(t.TempDir(), "absent.gds"), "top")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
