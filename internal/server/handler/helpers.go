package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// writeJSON writes v with status. Marshal failures become a bare 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// parseListOpts reads ?limit= and ?offset=. Missing or invalid values fall
// back to the defaults; limit is capped at maxPageSize.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	return domain.ListOpts{
		Limit:  min(queryInt(q.Get("limit"), 1, defaultPageSize), maxPageSize),
		Offset: queryInt(q.Get("offset"), 0, 0),
	}
}

// queryInt parses v, returning def when v is empty, malformed or below lo.
func queryInt(v string, lo, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < lo {
		return def
	}
	return n
}

// pathParam extracts a named chi route parameter.
func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
