package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/modelgate/gateway/internal/tracking"
)

type logsResponse struct {
	Items []*tracking.Log `json:"items"`
}

func parseLogFilter(r *http.Request) (tracking.LogFilter, error) {
	query := r.URL.Query()
	filter := tracking.LogFilter{
		Provider: strings.TrimSpace(query.Get("provider")),
		Model:    strings.TrimSpace(query.Get("model")),
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return tracking.LogFilter{}, errors.New("invalid limit")
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return tracking.LogFilter{}, errors.New("invalid offset")
		}
		filter.Offset = offset
	}

	return filter, nil
}

func LogsHandler(store tracking.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "tracking is disabled")
			return
		}

		filter, err := parseLogFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		logs, err := store.ListLogs(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list chat logs failed")
			return
		}
		writeJSON(w, http.StatusOK, logsResponse{Items: logs})
	})
}

func LogDetailHandler(store tracking.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "tracking is disabled")
			return
		}

		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tracking/logs/"), "/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusBadRequest, "log id is required in path")
			return
		}

		log, err := store.GetLog(r.Context(), id)
		if err != nil {
			if errors.Is(err, tracking.ErrNotFound) {
				writeError(w, http.StatusNotFound, "chat log not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "get chat log failed")
			return
		}
		writeJSON(w, http.StatusOK, log)
	})
}

// ExportHandler streams the filtered logs as a download, semicolon-delimited
// CSV by default or JSONL with format=jsonl.
func ExportHandler(store tracking.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "tracking is disabled")
			return
		}

		filter, err := parseLogFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
		switch format {
		case "", "csv", "jsonl":
		default:
			writeError(w, http.StatusBadRequest, "invalid format "+strconv.Quote(format))
			return
		}

		logs, err := store.ListLogs(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list chat logs failed")
			return
		}

		if format == "jsonl" {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Content-Disposition", `attachment; filename=chat_logs.jsonl`)
			_ = tracking.WriteJSONL(w, logs)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename=chat_logs.csv`)
		_ = tracking.WriteCSV(w, logs)
	})
}
