package ops

import (
	"context"
	"database/sql"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/session"
	"github.com/hpungsan/dirsync/internal/shell"
	"github.com/hpungsan/dirsync/internal/sorting"
	"github.com/hpungsan/dirsync/internal/store"
	"github.com/hpungsan/dirsync/internal/view"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Dir        string  // required
	SortKey    *string // overrides the folder's saved sort key
	Descending *bool
	Filter     *string
	ShowHidden *bool
	Columns    bool // compute the checked column values for the returned rows
	Limit      int  // default: 100, max: 1000
	Offset     int  // default: 0
	Logger     *zap.Logger
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Dir        string         `json:"dir"`
	Items      []session.Row  `json:"items"`
	Counters   store.Counters `json:"counters"`
	TotalSize  string         `json:"total_size"`
	Empty      bool           `json:"empty"`
	Settings   view.Settings  `json:"settings"`
	Pagination Pagination     `json:"pagination"`
}

// List takes a one-off listing of a directory using its saved view settings.
func List(ctx context.Context, database *sql.DB, cfg *config.Config, input ListInput) (*ListOutput, error) {
	f, err := ValidateDir(input.Dir, cfg)
	if err != nil {
		return nil, err
	}
	settings, _, err := LoadSettings(database, cfg, f)
	if err != nil {
		return nil, err
	}

	if input.SortKey != nil {
		key, err := sorting.ParseKey(*input.SortKey)
		if err != nil {
			return nil, err
		}
		settings.Criterion.Key = key
	}
	if input.Descending != nil {
		settings.Criterion.Descending = *input.Descending
	}
	if input.Filter != nil {
		settings.Filter.Pattern = *input.Filter
	}
	if input.ShowHidden != nil {
		settings.Filter.ShowHidden = *input.ShowHidden
	}
	// Column values are computed below for the page only.
	listed := settings
	listed.Mode = view.ModeList

	s, err := session.Open(ctx, session.Options{
		Dir:      f.Path,
		Config:   cfg,
		Settings: &listed,
		Watch:    session.NoWatch,
		Logger:   input.Logger,
	})
	if err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	_ = s.Close()

	limit, offset := paginate(input.Limit, input.Offset, DefaultListLimit, MaxListLimit)
	total := len(snap.Rows)
	start := min(offset, total)
	end := min(start+limit, total)
	items := snap.Rows[start:end]

	if input.Columns {
		prober := shell.OSProber{}
		for i := range items {
			items[i].Columns = make(map[columns.Column]string, len(settings.Columns))
			for _, c := range settings.Columns {
				if v, err := columns.Compute(prober, c, items[i].Path); err == nil {
					items[i].Columns[c] = v
				}
			}
		}
	}

	return &ListOutput{
		Dir:       f.Path,
		Items:     items,
		Counters:  snap.Counters,
		TotalSize: humanize.IBytes(snap.Counters.TotalSize),
		Empty:     snap.Empty,
		Settings:  settings,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: end < total,
			Total:   total,
		},
	}, nil
}
