// Package item defines the record kept for every entry of a watched directory.
package item

import (
	"strconv"
	"time"
)

// ID names one record independent of where it is displayed. IDs are allocated
// from a counter and never reused while the process runs.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Attributes is the attribute bitset of an entry.
type Attributes uint32

const (
	AttrDirectory Attributes = 1 << iota
	AttrHidden
	AttrReadOnly
	AttrSymlink
	AttrSystem
)

// Has reports whether all bits of a are set.
func (attrs Attributes) Has(a Attributes) bool {
	return attrs&a == a
}

// String renders the bitset the way a details view shows it (e.g. "DH-L-").
func (attrs Attributes) String() string {
	flags := []struct {
		bit  Attributes
		char byte
	}{
		{AttrDirectory, 'D'},
		{AttrHidden, 'H'},
		{AttrReadOnly, 'R'},
		{AttrSymlink, 'L'},
		{AttrSystem, 'S'},
	}
	out := make([]byte, len(flags))
	for i, f := range flags {
		out[i] = '-'
		if attrs.Has(f.bit) {
			out[i] = f.char
		}
	}
	return string(out)
}

// Overlay is the icon overlay index shown on top of an item's icon.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayShortcut
	OverlayReadOnly
)

// Record is the metadata held for one directory entry.
type Record struct {
	ID          ID         `json:"id"`
	Parent      string     `json:"parent"`
	Path        string     `json:"path"`
	DisplayName string     `json:"display_name"`
	Attributes  Attributes `json:"attributes"`
	Size        uint64     `json:"size"`
	ModTime     time.Time  `json:"mod_time"`
	Overlay     Overlay    `json:"overlay"`
}

// IsDir reports whether the record is a directory.
func (r *Record) IsDir() bool {
	return r.Attributes.Has(AttrDirectory)
}

// IsHidden reports whether the record carries the hidden attribute.
func (r *Record) IsHidden() bool {
	return r.Attributes.Has(AttrHidden)
}
