package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"biblio/internal/apperr"
	"biblio/internal/models"
)

const dateLayout = "2006-01-02"

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("id: must be a positive integer")
	}
	return id, nil
}

// page reads limit and offset. A missing limit means the default; a limit
// above the cap is clamped.
func (s *Server) page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	var c apperr.Checker

	limit = s.defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		c.Check(convErr == nil && n > 0, "limit", "must be a positive integer")
		if n > 0 {
			limit = min(n, s.maxLimit)
		}
	}
	if raw := q.Get("offset"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		c.Check(convErr == nil && n >= 0, "offset", "must be a non-negative integer")
		if n > 0 {
			offset = n
		}
	}
	return limit, offset, c.Err()
}

func searchTerm(r *http.Request) string {
	q := r.URL.Query()
	if term := q.Get("search"); term != "" {
		return strings.TrimSpace(term)
	}
	return strings.TrimSpace(q.Get("q"))
}

func loanStatus(r *http.Request) (models.LoanStatus, error) {
	status := models.LoanStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		return "", apperr.Validation("status: must be active or returned")
	}
	return status, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates, the latter read as
// midnight UTC
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, raw)
}

func queryTime(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, apperr.Validation(key + ": must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	return t, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("body: must not be empty")
		}
		return apperr.Validation("body: malformed JSON")
	}
	return nil
}
