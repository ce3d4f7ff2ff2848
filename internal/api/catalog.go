package api

import (
	"net/http"

	"biblio/internal/models"
)

// BookRequest is the body of POST /api/libri
type BookRequest struct {
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	ISBN            *string `json:"isbn"`
	PublicationYear *int    `json:"publication_year"`
	Genre           *string `json:"genre"`
}

// MemberRequest is the body of POST /api/utenti
type MemberRequest struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	s.listBooks(w, r, false)
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request) {
	s.listBooks(w, r, true)
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request, search bool) {
	limit, offset, err := s.page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filter := models.BookFilter{Search: searchTerm(r), Limit: limit, Offset: offset}

	list := s.catalog.ListBooks
	if search {
		list = s.catalog.SearchBooks
	}
	books, total, err := list(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondPage(w, nonNil(books), total, limit, offset)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	book, err := s.catalog.GetBook(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, book, "")
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	book := &models.Book{
		Title:           req.Title,
		Author:          req.Author,
		ISBN:            req.ISBN,
		PublicationYear: req.PublicationYear,
		Genre:           req.Genre,
	}
	if err := s.catalog.CreateBook(r.Context(), book); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, book, "Book created")
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var patch models.BookPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}

	book, err := s.catalog.UpdateBook(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, book, "Book updated")
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.catalog.DeleteBook(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, nil, "Book deleted")
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	s.listMembers(w, r, false)
}

func (s *Server) handleSearchMembers(w http.ResponseWriter, r *http.Request) {
	s.listMembers(w, r, true)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request, search bool) {
	limit, offset, err := s.page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filter := models.MemberFilter{Search: searchTerm(r), Limit: limit, Offset: offset}

	list := s.catalog.ListMembers
	if search {
		list = s.catalog.SearchMembers
	}
	members, total, err := list(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondPage(w, nonNil(members), total, limit, offset)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	member, err := s.catalog.GetMember(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, member, "")
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	member := &models.Member{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
	}
	if err := s.catalog.CreateMember(r.Context(), member); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, member, "Member created")
}

func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var patch models.MemberPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}

	member, err := s.catalog.UpdateMember(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, member, "Member updated")
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.catalog.DeleteMember(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, nil, "Member deleted")
}

func (s *Server) handleMemberLoans(w http.ResponseWriter, r *http.Request) {
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

	member, loans, err := s.lending.FindByMember(r.Context(), id, status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"member": member,
		"loans":  nonNil(loans),
	}, "")
}
