package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// GDSII record types. Only the records that shape the cell hierarchy are
// interpreted; everything else is skipped by length.
const (
	recHeader   = 0x00
	recBgnLib   = 0x01
	recLibName  = 0x02
	recUnits    = 0x03
	recEndLib   = 0x04
	recBgnStr   = 0x05
	recStrName  = 0x06
	recEndStr   = 0x07
	recBoundary = 0x08
	recPath     = 0x09
	recSRef     = 0x0A
	recARef     = 0x0B
	recText     = 0x0C
	recEndEl    = 0x11
	recSName    = 0x12
	recNode     = 0x15
	recBox      = 0x2D
)

type record struct {
	offset int64
	kind   byte
	data   []byte
}

// cell is one structure of a library.
type cell struct {
	name    string
	shapes  int
	refs    []string
	defined bool
}

// library is the hierarchy view of a GDSII stream: cells in definition
// order plus the cells that are only referenced.
type library struct {
	name  string
	order []string
	cells map[string]*cell
}

func (l *library) lookup(name string) *cell {
	c, ok := l.cells[name]
	if !ok {
		c = &cell{name: name}
		l.cells[name] = c
	}
	return c
}

// recordReader walks the records of an in-memory stream.
type recordReader struct {
	src []byte
	pos int
}

func (r *recordReader) next() (record, bool, error) {
	if r.pos >= len(r.src) {
		return record{}, false, nil
	}
	if len(r.src)-r.pos < 4 {
		return record{}, false, fmt.Errorf("truncated record header at offset %d", r.pos)
	}
	length := int(binary.BigEndian.Uint16(r.src[r.pos:]))
	if length == 0 {
		// Zero padding after the last record.
		return record{}, false, nil
	}
	if length < 4 || length%2 != 0 {
		return record{}, false, fmt.Errorf("bad record length %d at offset %d", length, r.pos)
	}
	if r.pos+length > len(r.src) {
		return record{}, false, fmt.Errorf("record at offset %d runs past end of stream", r.pos)
	}
	rec := record{offset: int64(r.pos), kind: r.src[r.pos+2], data: r.src[r.pos+4 : r.pos+length]}
	r.pos += length
	return rec, true, nil
}

func gdsString(data []byte) string {
	return string(bytes.TrimRight(data, "\x00"))
}

// decodeLibrary builds the cell table of a GDSII stream.
func decodeLibrary(file string, src []byte) (*library, error) {
	lib := &library{cells: make(map[string]*cell)}
	r := &recordReader{src: src}

	fail := func(offset int64, format string, args ...interface{}) error {
		return &ParseError{File: file, Offset: offset, Message: fmt.Sprintf(format, args...)}
	}

	first := true
	var current *cell
	var inElement, inRef bool
	for {
		rec, ok, err := r.next()
		if err != nil {
			return nil, &ParseError{File: file, Offset: int64(r.pos), Message: err.Error()}
		}
		if !ok {
			return nil, fail(int64(r.pos), "stream ends without ENDLIB")
		}
		if first {
			if rec.kind != recHeader {
				return nil, fail(rec.offset, "not a GDSII stream")
			}
			first = false
			continue
		}

		switch rec.kind {
		case recLibName:
			lib.name = gdsString(rec.data)
		case recBgnStr:
			if current != nil {
				return nil, fail(rec.offset, "BGNSTR inside structure %s", current.name)
			}
			current = &cell{}
		case recStrName:
			if current == nil {
				return nil, fail(rec.offset, "STRNAME outside a structure")
			}
			name := gdsString(rec.data)
			if existing, ok := lib.cells[name]; ok && existing.defined {
				return nil, fail(rec.offset, "structure %s defined twice", name)
			}
			c := lib.lookup(name)
			c.defined = true
			lib.order = append(lib.order, name)
			current = c
		case recEndStr:
			if current == nil || current.name == "" {
				return nil, fail(rec.offset, "ENDSTR without a named structure")
			}
			current = nil
		case recBoundary, recPath, recText, recNode, recBox:
			if current == nil {
				return nil, fail(rec.offset, "element outside a structure")
			}
			current.shapes++
			inElement = true
		case recSRef, recARef:
			if current == nil {
				return nil, fail(rec.offset, "reference outside a structure")
			}
			inElement, inRef = true, true
		case recSName:
			if !inRef {
				return nil, fail(rec.offset, "SNAME outside a reference")
			}
			name := gdsString(rec.data)
			lib.lookup(name)
			current.refs = append(current.refs, name)
		case recEndEl:
			if !inElement {
				return nil, fail(rec.offset, "ENDEL without an element")
			}
			inElement, inRef = false, false
		case recEndLib:
			if current != nil {
				return nil, fail(rec.offset, "ENDLIB inside structure %s", current.name)
			}
			return lib, nil
		case recHeader:
			return nil, fail(rec.offset, "unexpected HEADER")
		}
		// BGNLIB, UNITS and property or layer records carry nothing the
		// hierarchy needs.
	}
}

// topCells returns the defined cells that no other cell references, in
// definition order.
func (l *library) topCells() []string {
	referenced := make(map[string]bool)
	for _, name := range l.order {
		for _, ref := range l.cells[name].refs {
			if ref != name {
				referenced[ref] = true
			}
		}
	}
	var tops []string
	for _, name := range l.order {
		if !referenced[name] {
			tops = append(tops, name)
		}
	}
	return tops
}

// children returns the distinct cells referenced by name, in order of first
// reference.
func (l *library) children(name string) []string {
	c, ok := l.cells[name]
	if !ok {
		return []string{}
	}
	seen := make(map[string]bool)
	out := []string{}
	for _, ref := range c.refs {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}
