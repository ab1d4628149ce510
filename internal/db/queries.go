package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/dirsync/internal/errors"
)

// FolderSettings is the stored view state of one folder. DirNorm is the
// lookup key; DirRaw keeps the spelling the folder was saved with.
type FolderSettings struct {
	DirNorm        string   `json:"dir_norm"`
	DirRaw         string   `json:"dir"`
	SortKey        string   `json:"sort_key"`
	SortDescending bool     `json:"sort_descending"`
	FoldersFirst   bool     `json:"folders_first"`
	ViewMode       string   `json:"view_mode"`
	FilterPattern  string   `json:"filter_pattern,omitempty"`
	ShowHidden     bool     `json:"show_hidden"`
	CaseSensitive  bool     `json:"case_sensitive"`
	Columns        []string `json:"columns,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

// UpsertSettings stores fs, replacing any settings saved for the same folder.
// CreatedAt is kept from the first save.
func UpsertSettings(db *sql.DB, fs *FolderSettings) error {
	var columnsJSON sql.NullString
	if len(fs.Columns) > 0 {
		data, err := json.Marshal(fs.Columns)
		if err != nil {
			return errors.NewInternal(err)
		}
		columnsJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO folder_settings (
			dir_norm, dir_raw, sort_key, sort_descending, folders_first,
			view_mode, filter_pattern, show_hidden, case_sensitive,
			columns_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dir_norm) DO UPDATE SET
			dir_raw = excluded.dir_raw,
			sort_key = excluded.sort_key,
			sort_descending = excluded.sort_descending,
			folders_first = excluded.folders_first,
			view_mode = excluded.view_mode,
			filter_pattern = excluded.filter_pattern,
			show_hidden = excluded.show_hidden,
			case_sensitive = excluded.case_sensitive,
			columns_json = excluded.columns_json,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query,
		fs.DirNorm, fs.DirRaw, fs.SortKey, fs.SortDescending, fs.FoldersFirst,
		fs.ViewMode, toNullString(fs.FilterPattern), fs.ShowHidden, fs.CaseSensitive,
		columnsJSON, now, now,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	fs.UpdatedAt = now
	if fs.CreatedAt == 0 {
		fs.CreatedAt = now
	}
	return nil
}

const selectSettings = `
	SELECT dir_norm, dir_raw, sort_key, sort_descending, folders_first,
		view_mode, filter_pattern, show_hidden, case_sensitive,
		columns_json, created_at, updated_at
	FROM folder_settings
`

// GetSettings returns the settings saved for dirNorm.
func GetSettings(db *sql.DB, dirNorm string) (*FolderSettings, error) {
	row := db.QueryRow(selectSettings+" WHERE dir_norm = ?", dirNorm)
	fs, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(dirNorm)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return fs, nil
}

// ListSettings returns saved settings, most recently updated first.
func ListSettings(db *sql.DB, limit, offset int) ([]FolderSettings, int, error) {
	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM folder_settings").Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.Query(selectSettings+" ORDER BY updated_at DESC, dir_norm LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []FolderSettings
	for rows.Next() {
		fs, err := scanSettings(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, *fs)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// DeleteSettings removes the settings saved for dirNorm.
func DeleteSettings(db *sql.DB, dirNorm string) error {
	result, err := db.Exec("DELETE FROM folder_settings WHERE dir_norm = ?", dirNorm)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(dirNorm)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSettings scans a single row into a FolderSettings struct.
func scanSettings(row scanner) (*FolderSettings, error) {
	var (
		fs          FolderSettings
		pattern     sql.NullString
		columnsJSON sql.NullString
	)

	err := row.Scan(
		&fs.DirNorm, &fs.DirRaw, &fs.SortKey, &fs.SortDescending, &fs.FoldersFirst,
		&fs.ViewMode, &pattern, &fs.ShowHidden, &fs.CaseSensitive,
		&columnsJSON, &fs.CreatedAt, &fs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fs.FilterPattern = pattern.String
	if columnsJSON.Valid && columnsJSON.String != "" {
		if err := json.Unmarshal([]byte(columnsJSON.String), &fs.Columns); err != nil {
			return nil, err
		}
	}
	return &fs, nil
}

// toNullString stores empty strings as NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
