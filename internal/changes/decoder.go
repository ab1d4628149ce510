// Package changes turns raw directory change notifications into normalized
// change records scoped to one watched directory.
package changes

import (
	"os"
	"path/filepath"

	"github.com/hpungsan/dirsync/internal/item"
)

// Kind is the kind of a raw notification.
type Kind uint8

const (
	KindCreate Kind = iota + 1
	KindMkdir
	KindDelete
	KindRmdir
	KindRename
	KindRenameFolder
	KindUpdateItem
	KindAttributes
	KindUpdateDir
)

var kindNames = map[Kind]string{
	KindCreate:       "create",
	KindMkdir:        "mkdir",
	KindDelete:       "delete",
	KindRmdir:        "rmdir",
	KindRename:       "rename",
	KindRenameFolder: "rename_folder",
	KindUpdateItem:   "update_item",
	KindAttributes:   "attributes",
	KindUpdateDir:    "update_dir",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Raw is a notification as delivered by the OS: a kind and one or two paths.
// Path2 is only meaningful for renames, where it is the new path.
type Raw struct {
	Kind  Kind
	Path1 string
	Path2 string
}

// Op is the normalized operation of a Change.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpRemove
	OpUpdate
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpUpdate:
		return "update"
	case OpRename:
		return "rename"
	}
	return "unknown"
}

// Change is a normalized change. OldPath is set for renames only.
type Change struct {
	Op      Op
	OldPath string
	Path    string
}

// Decoder scopes raw notifications to the direct children of one directory.
type Decoder struct {
	watched    string
	watchedKey string
	foldCase   bool
	watchedFI  os.FileInfo
}

// NewDecoder creates a decoder for watched. When foldCase is set, paths that differ
// only in case (after Unicode folding) name the same entry.
func NewDecoder(watched string, foldCase bool) *Decoder {
	clean := filepath.Clean(watched)
	d := &Decoder{
		watched:    clean,
		watchedKey: item.PathKey(clean, foldCase),
		foldCase:   foldCase,
	}
	if fi, err := os.Stat(clean); err == nil {
		d.watchedFI = fi
	}
	return d
}

// Watched returns the watched directory.
func (d *Decoder) Watched() string {
	return d.watched
}

// IsChild reports whether path names a direct child of the watched directory.
//
// The test is structural: the parent of path must be the watched directory,
// either by normalized name or, failing that, by identity on disk, which
// catches alternate spellings such as links or short names.
func (d *Decoder) IsChild(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	parent := filepath.Dir(clean)
	if parent == clean {
		return false
	}
	base := filepath.Base(clean)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return false
	}

	if item.PathKey(parent, d.foldCase) == d.watchedKey {
		return true
	}
	if d.watchedFI == nil {
		return false
	}
	fi, err := os.Stat(parent)
	if err != nil {
		return false
	}
	return os.SameFile(fi, d.watchedFI)
}

// Decode normalizes raw. The second result is false when the notification
// does not concern a child of the watched directory; late notifications for a
// directory the view just left are discarded this way.
func (d *Decoder) Decode(raw Raw) (Change, bool) {
	switch raw.Kind {
	case KindCreate, KindMkdir:
		if d.IsChild(raw.Path1) {
			return Change{Op: OpInsert, Path: raw.Path1}, true
		}

	case KindRename, KindRenameFolder:
		oldIn := d.IsChild(raw.Path1)
		newIn := d.IsChild(raw.Path2)
		switch {
		case oldIn && newIn:
			return Change{Op: OpRename, OldPath: raw.Path1, Path: raw.Path2}, true
		case oldIn:
			return Change{Op: OpRemove, Path: raw.Path1}, true
		case newIn:
			return Change{Op: OpInsert, Path: raw.Path2}, true
		}

	case KindUpdateItem, KindAttributes:
		if d.IsChild(raw.Path1) {
			return Change{Op: OpUpdate, Path: raw.Path1}, true
		}

	case KindDelete, KindRmdir:
		if d.IsChild(raw.Path1) {
			return Change{Op: OpRemove, Path: raw.Path1}, true
		}
	}

	return Change{}, false
}
