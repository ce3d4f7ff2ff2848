package api

import (
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"biblio/internal/apperr"
	"biblio/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pagination describes a page of a larger result set
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Message    string      `json:"message,omitempty"`
}

type errorBody struct {
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Error     errorBody `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func respondPage(w http.ResponseWriter, data any, total, limit, offset int) {
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    data,
		Pagination: &Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+limit < total,
		},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string, details []string) {
	writeJSON(w, status, errorEnvelope{
		Error:     errorBody{Message: message, Status: status, Details: details},
		Timestamp: time.Now().UTC(),
		Path:      r.URL.Path,
		Method:    r.Method,
	})
}

// statusFor maps a service error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrLoanNotReturned):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, storage.ErrDuplicate),
		errors.Is(err, storage.ErrReferenced),
		errors.Is(err, storage.ErrActiveLoanExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an error envelope. Unexpected failures are logged and
// their cause is kept out of the response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := apperr.Message(err)

	switch {
	case status == http.StatusInternalServerError:
		s.logger.Error("Request failed", requestFields(r, zap.Error(err))...)
		message = "internal server error"
	case status == http.StatusServiceUnavailable:
		s.logger.Warn("Backend unavailable", requestFields(r, zap.Error(err))...)
	}

	writeError(w, r, status, message, apperr.Details(err))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
