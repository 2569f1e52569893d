package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

const maxBodyBytes = 1 << 20

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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps domain sentinels to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInstanceClosed):
		return http.StatusGone
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrWindowNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with the status errorStatus picks. 5xx replies hide
// the error text.
func writeErr(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// parseListOpts reads limit (default 50, max 500), offset, and RFC 3339
// since/until from the query string.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = min(n, 500)
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, name, err)
		}
		*dst = &ts
	}
	return opts, nil
}
