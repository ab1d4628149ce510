package view

import (
	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/sorting"
)

// Settings are the view settings remembered per folder.
type Settings struct {
	Criterion sorting.Criterion `json:"criterion"`
	Mode      Mode              `json:"mode"`
	Filter    Filter            `json:"filter"`
	Columns   []columns.Column  `json:"columns"`
}

// DefaultSettings derives the settings for a folder nothing was saved for.
func DefaultSettings(cfg *config.Config) (Settings, error) {
	key, err := sorting.ParseKey(cfg.SortKey)
	if err != nil {
		return Settings{}, err
	}
	mode, err := ParseMode(cfg.ViewMode)
	if err != nil {
		return Settings{}, err
	}
	cols, err := columns.Parse(cfg.Columns)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Criterion: sorting.Criterion{
			Key:          key,
			Descending:   cfg.SortDescending,
			FoldersFirst: !cfg.FoldersMixed,
		},
		Mode:    mode,
		Filter:  Filter{ShowHidden: cfg.ShowHidden},
		Columns: cols,
	}, nil
}

// Validate checks every field.
func (s Settings) Validate() error {
	if _, err := sorting.ParseKey(string(s.Criterion.Key)); err != nil {
		return err
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = string(c)
	}
	if _, err := columns.Parse(names); err != nil {
		return err
	}
	return s.Filter.Validate()
}
