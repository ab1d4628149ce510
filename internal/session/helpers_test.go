package session

import (
	"time"

	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/shell"
)

func shellHidden(size uint64) shell.Metadata {
	return shell.Metadata{Size: size, Attributes: item.AttrHidden, ModTime: time.Unix(1700000000, 0)}
}
