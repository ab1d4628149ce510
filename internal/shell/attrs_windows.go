//go:build windows

package shell

import (
	"io/fs"
	"syscall"

	"github.com/hpungsan/dirsync/internal/item"
)

// platformAttributes reads the hidden and system bits from the file attributes.
func platformAttributes(fi fs.FileInfo) item.Attributes {
	data, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return 0
	}
	var attrs item.Attributes
	if data.FileAttributes&syscall.FILE_ATTRIBUTE_HIDDEN != 0 {
		attrs |= item.AttrHidden
	}
	if data.FileAttributes&syscall.FILE_ATTRIBUTE_SYSTEM != 0 {
		attrs |= item.AttrSystem
	}
	return attrs
}
