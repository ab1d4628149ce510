package ops

import (
	"database/sql"

	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/db"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/sorting"
	"github.com/hpungsan/dirsync/internal/view"
)

// SettingsOutput is the view settings of one folder.
type SettingsOutput struct {
	Dir      string        `json:"dir"`
	Saved    bool          `json:"saved"`
	Settings view.Settings `json:"settings"`
}

// LoadSettings returns the settings saved for f, or the configured defaults
// when nothing was saved.
func LoadSettings(database *sql.DB, cfg *config.Config, f *Folder) (view.Settings, bool, error) {
	saved, err := db.GetSettings(database, f.Key)
	if errors.Is(err, errors.ErrNotFound) {
		def, err := view.DefaultSettings(cfg)
		return def, false, err
	}
	if err != nil {
		return view.Settings{}, false, err
	}
	return fromRecord(saved), true, nil
}

// GetSettingsInput contains parameters for GetSettings.
type GetSettingsInput struct {
	Dir string // required
}

// GetSettings returns the effective view settings of a folder.
func GetSettings(database *sql.DB, cfg *config.Config, input GetSettingsInput) (*SettingsOutput, error) {
	f, err := ValidateDir(input.Dir, cfg)
	if err != nil {
		return nil, err
	}
	s, saved, err := LoadSettings(database, cfg, f)
	if err != nil {
		return nil, err
	}
	return &SettingsOutput{Dir: f.Path, Saved: saved, Settings: s}, nil
}

// SetSettingsInput contains parameters for SetSettings. Nil fields keep the
// current value.
type SetSettingsInput struct {
	Dir           string // required
	SortKey       *string
	Descending    *bool
	FoldersFirst  *bool
	Mode          *string
	NextMode      bool // cycle to the next view mode; ignored when Mode is set
	FilterPattern *string
	ShowHidden    *bool
	CaseSensitive *bool
	Columns       []string
}

// SetSettings updates and saves the view settings of a folder.
func SetSettings(database *sql.DB, cfg *config.Config, input SetSettingsInput) (*SettingsOutput, error) {
	f, err := ValidateDir(input.Dir, cfg)
	if err != nil {
		return nil, err
	}
	s, _, err := LoadSettings(database, cfg, f)
	if err != nil {
		return nil, err
	}

	if input.SortKey != nil {
		key, err := sorting.ParseKey(*input.SortKey)
		if err != nil {
			return nil, err
		}
		s.Criterion.Key = key
	}
	if input.Descending != nil {
		s.Criterion.Descending = *input.Descending
	}
	if input.FoldersFirst != nil {
		s.Criterion.FoldersFirst = *input.FoldersFirst
	}
	switch {
	case input.Mode != nil:
		mode, err := view.ParseMode(*input.Mode)
		if err != nil {
			return nil, err
		}
		s.Mode = mode
	case input.NextMode:
		s.Mode = s.Mode.Next()
	}
	if input.FilterPattern != nil {
		s.Filter.Pattern = *input.FilterPattern
	}
	if input.ShowHidden != nil {
		s.Filter.ShowHidden = *input.ShowHidden
	}
	if input.CaseSensitive != nil {
		s.Filter.CaseSensitive = *input.CaseSensitive
	}
	if input.Columns != nil {
		cols, err := columns.Parse(input.Columns)
		if err != nil {
			return nil, err
		}
		s.Columns = cols
	}

	if err := SaveSettings(database, f, s); err != nil {
		return nil, err
	}
	return &SettingsOutput{Dir: f.Path, Saved: true, Settings: s}, nil
}

// SaveSettings validates and stores s for f.
func SaveSettings(database *sql.DB, f *Folder, s view.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	rec := toRecord(f, s)
	return db.UpsertSettings(database, rec)
}

// ResetSettingsInput contains parameters for ResetSettings.
type ResetSettingsInput struct {
	Dir string // required
}

// ResetSettingsOutput reports the settings in effect after a reset.
type ResetSettingsOutput struct {
	Dir      string        `json:"dir"`
	Reset    bool          `json:"reset"`
	Settings view.Settings `json:"settings"`
}

// ResetSettings forgets the settings saved for a folder. Reset is false when
// nothing was saved.
func ResetSettings(database *sql.DB, cfg *config.Config, input ResetSettingsInput) (*ResetSettingsOutput, error) {
	f, err := ValidateDir(input.Dir, cfg)
	if err != nil {
		return nil, err
	}
	reset := true
	if err := db.DeleteSettings(database, f.Key); err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		reset = false
	}
	def, err := view.DefaultSettings(cfg)
	if err != nil {
		return nil, err
	}
	return &ResetSettingsOutput{Dir: f.Path, Reset: reset, Settings: def}, nil
}

// ListSettingsInput contains parameters for ListSettings.
type ListSettingsInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListSettingsOutput contains the saved folders.
type ListSettingsOutput struct {
	Items      []db.FolderSettings `json:"items"`
	Pagination Pagination          `json:"pagination"`
	Sort       string              `json:"sort"`
}

// ListSettings lists folders with saved settings, most recently updated first.
func ListSettings(database *sql.DB, input ListSettingsInput) (*ListSettingsOutput, error) {
	limit, offset := paginate(input.Limit, input.Offset, DefaultSettingsLimit, MaxSettingsLimit)

	items, total, err := db.ListSettings(database, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []db.FolderSettings{}
	}

	return &ListSettingsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "updated_at_desc",
	}, nil
}

func toRecord(f *Folder, s view.Settings) *db.FolderSettings {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = string(c)
	}
	return &db.FolderSettings{
		DirNorm:        f.Key,
		DirRaw:         f.Path,
		SortKey:        string(s.Criterion.Key),
		SortDescending: s.Criterion.Descending,
		FoldersFirst:   s.Criterion.FoldersFirst,
		ViewMode:       string(s.Mode),
		FilterPattern:  s.Filter.Pattern,
		ShowHidden:     s.Filter.ShowHidden,
		CaseSensitive:  s.Filter.CaseSensitive,
		Columns:        cols,
	}
}

func fromRecord(rec *db.FolderSettings) view.Settings {
	cols := make([]columns.Column, len(rec.Columns))
	for i, c := range rec.Columns {
		cols[i] = columns.Column(c)
	}
	return view.Settings{
		Criterion: sorting.Criterion{
			Key:          sorting.Key(rec.SortKey),
			Descending:   rec.SortDescending,
			FoldersFirst: rec.FoldersFirst,
		},
		Mode: view.Mode(rec.ViewMode),
		Filter: view.Filter{
			Pattern:       rec.FilterPattern,
			ShowHidden:    rec.ShowHidden,
			CaseSensitive: rec.CaseSensitive,
		},
		Columns: cols,
	}
}
