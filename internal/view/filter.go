package view

import (
	"path"
	"strings"

	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
)

// Filter decides which records get a row.
//
// Pattern is a glob matched against the display name; a pattern without glob
// metacharacters matches names containing it. Hidden records are excluded
// unless ShowHidden is set, whatever the pattern.
type Filter struct {
	Pattern       string `json:"pattern,omitempty"`
	ShowHidden    bool   `json:"show_hidden,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// Active reports whether a name pattern is in effect. Only an active filter
// suppresses the empty-folder indicator.
func (f Filter) Active() bool {
	return f.Pattern != ""
}

// Validate checks the pattern syntax.
func (f Filter) Validate() error {
	if _, err := path.Match(f.glob(), ""); err != nil {
		return errors.NewInvalidRequest("invalid filter pattern: " + f.Pattern)
	}
	return nil
}

func (f Filter) glob() string {
	pat := f.Pattern
	if !f.CaseSensitive {
		pat = item.NameKey(pat)
	}
	if !strings.ContainsAny(pat, `*?[\`) {
		pat = "*" + pat + "*"
	}
	return pat
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec *item.Record) bool {
	if rec.IsHidden() && !f.ShowHidden {
		return false
	}
	if !f.Active() {
		return true
	}
	name := rec.DisplayName
	if !f.CaseSensitive {
		name = item.NameKey(name)
	}
	ok, err := path.Match(f.glob(), name)
	return err == nil && ok
}
