// Package shell answers the filesystem questions a folder view asks: what an
// entry looks like right now, which folder it lives in, and what name to show.
package shell

import (
	"context"
	stderrors "errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/retry"
)

// Metadata is a point-in-time view of one filesystem entry.
type Metadata struct {
	Name       string
	Attributes item.Attributes
	Size       uint64
	ModTime    time.Time
	Overlay    item.Overlay
}

// Prober re-reads metadata for a path.
type Prober interface {
	Probe(path string) (Metadata, error)
}

// OSProber reads metadata from the local filesystem without following the
// final symlink, so a link shows as a link with the shortcut overlay.
type OSProber struct{}

// Probe implements Prober. Missing entries return an error wrapping
// fs.ErrNotExist; other failures are marked retryable.
func (OSProber) Probe(path string) (Metadata, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return Metadata{}, err
		}
		return Metadata{}, retry.Retryable(err)
	}
	return FromFileInfo(path, fi), nil
}

// FromFileInfo converts an fs.FileInfo into Metadata.
func FromFileInfo(path string, fi fs.FileInfo) Metadata {
	md := Metadata{
		Name:    fi.Name(),
		ModTime: fi.ModTime(),
	}

	mode := fi.Mode()
	if mode&fs.ModeSymlink != 0 {
		md.Attributes |= item.AttrSymlink
		md.Overlay = item.OverlayShortcut
		// A link to a directory behaves like a directory in the view.
		if target, err := os.Stat(path); err == nil && target.IsDir() {
			md.Attributes |= item.AttrDirectory
		}
	}
	if fi.IsDir() {
		md.Attributes |= item.AttrDirectory
	} else if mode.IsRegular() {
		md.Size = uint64(fi.Size())
	}
	if mode.Perm()&0o200 == 0 {
		md.Attributes |= item.AttrReadOnly
		if md.Overlay == item.OverlayNone {
			md.Overlay = item.OverlayReadOnly
		}
	}
	md.Attributes |= platformAttributes(fi)
	return md
}

// Resolve probes path with a bounded number of attempts. A path that no longer
// resolves yields RESOLUTION_FAILED; callers keep whatever they had before.
func Resolve(ctx context.Context, p Prober, path string, cfg retry.Config) (Metadata, error) {
	md, err := retry.DoWithResult(ctx, cfg, func() (Metadata, error) {
		return p.Probe(path)
	})
	if err != nil {
		return Metadata{}, errors.NewResolutionFailed(path, err)
	}
	return md, nil
}

// BindParent splits path into the folder that contains it and its in-folder name.
func BindParent(path string) (parent, name string) {
	clean := filepath.Clean(path)
	return filepath.Dir(clean), filepath.Base(clean)
}

// Enumerate returns the full paths of the direct children of dir.
func Enumerate(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// NameForm selects how display names are derived for a folder.
type NameForm uint8

const (
	// FormParsing shows the on-disk name, extension included. Used for real folders
	// so extensions stay visible whatever the global preference says.
	FormParsing NameForm = iota
	// FormInFolder shows the in-folder name only; known extensions may be hidden.
	FormInFolder
)

// Folder is the folder a session is bound to, with its display-name form fixed
// once when the session opens.
type Folder struct {
	Dir            string
	Form           NameForm
	HideExtensions bool
}

// NewFolder binds dir. Virtual folders use in-folder names; real folders parsing names.
func NewFolder(dir string, virtual, hideExtensions bool) Folder {
	form := FormParsing
	if virtual {
		form = FormInFolder
	}
	return Folder{Dir: filepath.Clean(dir), Form: form, HideExtensions: hideExtensions}
}

// DisplayName returns the name shown for the entry at path.
func (f Folder) DisplayName(path string) (string, error) {
	_, name := BindParent(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", errors.NewInvalidRequest("path has no in-folder name: " + path)
	}

	switch f.Form {
	case FormInFolder:
		if f.HideExtensions {
			return stripKnownExtension(name), nil
		}
		return name, nil
	default:
		return name, nil
	}
}

// stripKnownExtension drops the extension when it maps to a registered type.
func stripKnownExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return name
	}
	if mime.TypeByExtension(strings.ToLower(ext)) == "" {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

// IsVirtual reports whether dir sits on a pseudo filesystem whose entries are
// synthesized rather than stored.
func IsVirtual(dir string) bool {
	clean := filepath.ToSlash(filepath.Clean(dir))
	for _, prefix := range []string{"/proc", "/sys", "/dev"} {
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}
