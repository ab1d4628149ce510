package view

import (
	"slices"
	"strings"

	"github.com/hpungsan/dirsync/internal/errors"
)

// Mode is how rows are laid out.
type Mode string

const (
	ModeExtraLargeIcons Mode = "extra-large-icons"
	ModeLargeIcons      Mode = "large-icons"
	ModeIcons           Mode = "icons"
	ModeSmallIcons      Mode = "small-icons"
	ModeList            Mode = "list"
	ModeDetails         Mode = "details"
	ModeThumbnails      Mode = "thumbnails"
	ModeTiles           Mode = "tiles"
)

// Modes is the cycle order used by Next.
var Modes = []Mode{
	ModeExtraLargeIcons,
	ModeLargeIcons,
	ModeIcons,
	ModeSmallIcons,
	ModeList,
	ModeDetails,
	ModeThumbnails,
	ModeTiles,
}

// ParseMode validates s. An empty string selects details.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeDetails, nil
	}
	m := Mode(strings.ToLower(s))
	if !slices.Contains(Modes, m) {
		return "", errors.NewInvalidRequest("unknown view mode: " + s)
	}
	return m, nil
}

// Next returns the mode after m, wrapping around. Unknown modes go to the first.
func (m Mode) Next() Mode {
	i := slices.Index(Modes, m)
	return Modes[(i+1)%len(Modes)]
}

// ShowsColumns reports whether the mode displays per-item column values.
func (m Mode) ShowsColumns() bool {
	return m == ModeDetails
}
