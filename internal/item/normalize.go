package item

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NameKey normalizes a display name for case-insensitive lookups:
// NFC composition, then Unicode case folding.
func NameKey(name string) string {
	return folder.String(norm.NFC.String(name))
}

// PathKey normalizes a path for index lookups. Paths are cleaned and composed;
// when foldCase is set they are also case-folded so that "C:\Data\A.txt" and
// "c:\data\a.TXT" name the same entry.
func PathKey(path string, foldCase bool) string {
	p := norm.NFC.String(filepath.Clean(path))
	if foldCase {
		return folder.String(p)
	}
	return p
}

// Ext returns the lower-case extension of name without the dot, or "" for none.
// Leading-dot names such as ".profile" have no extension.
func Ext(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return ""
	}
	return strings.ToLower(ext[1:])
}
