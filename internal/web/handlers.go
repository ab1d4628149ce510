package web

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/logging"
	"github.com/hpungsan/dirsync/internal/ops"
	"github.com/hpungsan/dirsync/internal/session"
	"github.com/hpungsan/dirsync/internal/sorting"
	"github.com/hpungsan/dirsync/internal/store"
	"github.com/hpungsan/dirsync/internal/view"
)

const maxBodyBytes = 64 << 10

// Handlers contains HTTP route handlers for a folder view.
type Handlers struct {
	session *session.Session
	db      *sql.DB
	folder  *ops.Folder
	log     *zap.Logger
}

// ItemsResponse is the body of GET /items.
type ItemsResponse struct {
	ID         string         `json:"id"`
	Dir        string         `json:"dir"`
	Monitored  bool           `json:"monitored"`
	Empty      bool           `json:"empty"`
	Settings   view.Settings  `json:"settings"`
	Items      []session.Row  `json:"items"`
	Pagination ops.Pagination `json:"pagination"`
}

// HandleItems handles GET /items: the displayed rows in view order.
// selected=true limits the rows to the selection.
func (h *Handlers) HandleItems(w http.ResponseWriter, r *http.Request) {
	var snap session.Snapshot
	if err := h.session.Do(r.Context(), func() { snap = h.session.Snapshot() }); err != nil {
		renderError(w, err)
		return
	}

	rows := snap.Rows
	if parseBoolParam(r, "selected") {
		rows = slices.DeleteFunc(rows, func(row session.Row) bool { return !row.Selected })
	}

	limit := min(parseIntParam(r, "limit", ops.DefaultListLimit), ops.MaxListLimit)
	if limit <= 0 {
		limit = ops.DefaultListLimit
	}
	offset := max(parseIntParam(r, "offset", 0), 0)
	total := len(rows)
	start := min(offset, total)
	end := min(start+limit, total)

	renderJSON(w, http.StatusOK, ItemsResponse{
		ID:        snap.ID,
		Dir:       snap.Dir,
		Monitored: snap.Monitored,
		Empty:     snap.Empty,
		Settings:  snap.Settings,
		Items:     rows[start:end],
		Pagination: ops.Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: end < total,
			Total:   total,
		},
	})
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	store.Counters
	Displayed     int    `json:"displayed"`
	TotalHuman    string `json:"total_size_human"`
	SelectedHuman string `json:"selected_size_human"`
}

// HandleStats handles GET /stats: counters for the status bar.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	err := h.session.Do(r.Context(), func() {
		resp.Counters = h.session.Counters()
		resp.Displayed = h.session.Displayed()
	})
	if err != nil {
		renderError(w, err)
		return
	}
	resp.TotalHuman = humanize.IBytes(resp.TotalSize)
	resp.SelectedHuman = humanize.IBytes(resp.SelectedSize)
	renderJSON(w, http.StatusOK, resp)
}

// HandleEvents handles GET /events: a server-sent event per processed
// change notification. The stream ends when the client goes away or the
// session closes.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		renderError(w, errors.NewInternal(fmt.Errorf("streaming unsupported")))
		return
	}

	sub := h.session.Subscribe()
	defer h.session.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": %s\n\n", h.session.ID())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case sig, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(sig)
			if err != nil {
				h.log.Error("encode signal", logging.Uint64("seq", sig.Seq), logging.Err(err))
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: changed\ndata: %s\n\n", sig.Seq, data)
			flusher.Flush()
		}
	}
}

// SelectRequest is the body of POST /select.
type SelectRequest struct {
	ID       item.ID `json:"id"`
	Selected bool    `json:"selected"`
}

// HandleSelect handles POST /select.
func (h *Handlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	var counters store.Counters
	err := h.do(r, func() error {
		if err := h.session.Select(req.ID, req.Selected); err != nil {
			return err
		}
		counters = h.session.Counters()
		return nil
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, counters)
}

// DropRequest is the body of POST /drop.
type DropRequest struct {
	Names []string `json:"names"`
}

// HandleDrop handles POST /drop: names of items a drop is about to create.
// The response counts markers not yet consumed by a create.
func (h *Handlers) HandleDrop(w http.ResponseWriter, r *http.Request) {
	var req DropRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	if len(req.Names) == 0 {
		renderError(w, errors.NewInvalidRequest("names is required"))
		return
	}
	var pending int
	err := h.do(r, func() error {
		h.session.MarkDropped(req.Names...)
		pending = h.session.PendingDropped()
		return nil
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// HandleFilter handles PUT /filter. The body is a view.Filter.
func (h *Handlers) HandleFilter(w http.ResponseWriter, r *http.Request) {
	var f view.Filter
	if err := decodeJSON(w, r, &f); err != nil {
		renderError(w, err)
		return
	}
	h.updateSettings(w, r, func() error { return h.session.SetFilter(f) })
}

// SortRequest is the body of PUT /sort.
type SortRequest struct {
	Key          string `json:"key"`
	Descending   bool   `json:"descending"`
	FoldersFirst *bool  `json:"folders_first,omitempty"`
}

// HandleSort handles PUT /sort.
func (h *Handlers) HandleSort(w http.ResponseWriter, r *http.Request) {
	var req SortRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	key, err := sorting.ParseKey(req.Key)
	if err != nil {
		renderError(w, err)
		return
	}
	h.updateSettings(w, r, func() error {
		c := h.session.Settings().Criterion
		c.Key = key
		c.Descending = req.Descending
		if req.FoldersFirst != nil {
			c.FoldersFirst = *req.FoldersFirst
		}
		return h.session.SetCriterion(c)
	})
}

// ModeRequest is the body of PUT /mode. Next cycles to the following mode
// and ignores Mode.
type ModeRequest struct {
	Mode string `json:"mode"`
	Next bool   `json:"next"`
}

// HandleMode handles PUT /mode.
func (h *Handlers) HandleMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	var mode view.Mode
	if !req.Next {
		m, err := view.ParseMode(req.Mode)
		if err != nil {
			renderError(w, err)
			return
		}
		mode = m
	}
	h.updateSettings(w, r, func() error {
		if req.Next {
			mode = h.session.Settings().Mode.Next()
		}
		return h.session.SetMode(mode)
	})
}

// ColumnsRequest is the body of PUT /columns.
type ColumnsRequest struct {
	Columns []string `json:"columns"`
}

// HandleColumns handles PUT /columns: the checked details columns.
func (h *Handlers) HandleColumns(w http.ResponseWriter, r *http.Request) {
	var req ColumnsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	cols, err := columns.Parse(req.Columns)
	if err != nil {
		renderError(w, err)
		return
	}
	h.updateSettings(w, r, func() error {
		h.session.SetColumns(cols)
		return nil
	})
}

// updateSettings applies fn on the session goroutine, saves the resulting
// settings for the folder and responds with them.
func (h *Handlers) updateSettings(w http.ResponseWriter, r *http.Request, fn func() error) {
	var settings view.Settings
	err := h.do(r, func() error {
		if err := fn(); err != nil {
			return err
		}
		settings = h.session.Settings()
		return nil
	})
	if err != nil {
		renderError(w, err)
		return
	}
	if h.db != nil && h.folder != nil {
		if err := ops.SaveSettings(h.db, h.folder, settings); err != nil {
			h.log.Warn("could not save folder settings", logging.String("dir", h.folder.Path), logging.Err(err))
		}
	}
	renderJSON(w, http.StatusOK, settings)
}

// do runs fn on the session goroutine and returns its error.
func (h *Handlers) do(r *http.Request, fn func() error) error {
	var fnErr error
	if err := h.session.Do(r.Context(), func() { fnErr = fn() }); err != nil {
		return err
	}
	return fnErr
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidRequest("invalid request body: " + err.Error())
	}
	return nil
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes a typed error as JSON with its HTTP status.
func renderError(w http.ResponseWriter, err error) {
	var dErr *errors.DirsyncError
	if !stderrors.As(err, &dErr) {
		dErr = errors.NewInternal(err)
	}
	renderJSON(w, dErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(dErr.Code),
			"message": dErr.Message,
			"status":  dErr.Status,
		},
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	v := strings.ToLower(r.URL.Query().Get(name))
	return v == "true" || v == "1"
}
