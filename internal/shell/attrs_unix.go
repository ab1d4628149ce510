//go:build !windows

package shell

import (
	"io/fs"
	"strings"

	"github.com/hpungsan/dirsync/internal/item"
)

// platformAttributes marks dot-files hidden, the convention on unix systems.
func platformAttributes(fi fs.FileInfo) item.Attributes {
	if strings.HasPrefix(fi.Name(), ".") {
		return item.AttrHidden
	}
	return 0
}
