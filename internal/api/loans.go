package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"biblio/internal/apperr"
	"biblio/internal/lending"
	"biblio/internal/models"
)

const (
	defaultTopLimit  = 10
	defaultTopWindow = 30 * 24 * time.Hour
)

// CreateLoanRequest is the body of POST /api/prestiti
type CreateLoanRequest struct {
	BookID   int64   `json:"book_id"`
	MemberID int64   `json:"member_id"`
	DueDate  *string `json:"due_date"`
}

func (req CreateLoanRequest) issueRequest() (lending.IssueRequest, error) {
	out := lending.IssueRequest{BookID: req.BookID, MemberID: req.MemberID}
	if req.DueDate != nil && strings.TrimSpace(*req.DueDate) != "" {
		due, err := parseTime(strings.TrimSpace(*req.DueDate))
		if err != nil {
			return out, apperr.Validation("due_date: must be an RFC 3339 timestamp or YYYY-MM-DD date")
		}
		out.DueDate = &due
	}
	return out, nil
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := s.page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := loanStatus(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	loans, total, err := s.lending.FindLoans(r.Context(), models.LoanFilter{
		Status: status,
		Search: searchTerm(r),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondPage(w, nonNil(loans), total, limit, offset)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	loan, err := s.lending.GetLoan(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, loan, "")
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	issue, err := req.issueRequest()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	loan, err := s.lending.IssueLoan(r.Context(), issue)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view, err := s.lending.GetLoan(r.Context(), loan.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, view, "Loan created")
}

func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.lending.ReturnLoan(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}

	view, err := s.lending.GetLoan(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, view, "Book returned")
}

func (s *Server) handleDeleteLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.lending.DeleteLoan(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, nil, "Loan deleted")
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := s.page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	loans, total, err := s.reports.Overdue(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondPage(w, nonNil(loans), total, limit, offset)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reports.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats, "")
}

func (s *Server) handleTopBooks(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, r, apperr.Validation("limit: must be a positive integer"))
			return
		}
		limit = min(n, s.maxLimit)
	}

	now := s.lending.Now()
	until, err := queryTime(r, "until", now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	since, err := queryTime(r, "since", until.Add(-defaultTopWindow))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	stats, err := s.reports.TopBooks(r.Context(), limit, since, until)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats, "")
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := s.page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := s.reports.RecentActivity(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, events, "")
}

func (s *Server) handleLoansByBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := loanStatus(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	book, loans, err := s.lending.FindByBook(r.Context(), id, status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"book":  book,
		"loans": nonNil(loans),
	}, "")
}
