package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"library-catalog/library"
)

// bookRequest is the JSON form of a book. "category" is accepted as a single comma-separated
// string for clients of the old form; "categories" takes precedence when both are present.
type bookRequest struct {
	BookID          string   `json:"bookId"`
	BookName        string   `json:"bookName"`
	Author          string   `json:"author"`
	Category        string   `json:"category"`
	Categories      []string `json:"categories"`
	Description     string   `json:"description"`
	Publisher       string   `json:"publisher"`
	PublicationDate string   `json:"publicationDate"`
	Language        string   `json:"language"`
	Pages           *int     `json:"pages"`
	ISBN            string   `json:"isbn"`
	TotalCopies     *int     `json:"totalCopies"`
}

// toInput converts the request, reporting malformed fields the way the library reports
// invalid ones.
func (r bookRequest) toInput() (library.BookInput, error) {
	in := library.BookInput{
		ExternalID:  r.BookID,
		Title:       r.BookName,
		Author:      r.Author,
		Description: r.Description,
		Publisher:   r.Publisher,
		Language:    r.Language,
		Pages:       r.Pages,
		ISBN:        r.ISBN,
		Categories:  r.Categories,
	}
	if in.Categories == nil && r.Category != "" {
		in.Categories = strings.Split(r.Category, ",")
	}

	fields := map[string]string{}
	if r.TotalCopies == nil {
		fields["totalCopies"] = "this field is required"
	} else {
		in.TotalCopies = *r.TotalCopies
	}
	if d := strings.TrimSpace(r.PublicationDate); d != "" {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			fields["publicationDate"] = "enter a valid date (YYYY-MM-DD)"
		} else {
			in.PublicationDate = &t
		}
	}
	if len(fields) > 0 {
		return in, &library.ValidationError{Fields: fields}
	}
	return in, nil
}

// pathID parses the numeric :id parameter, writing a 404 when it is not one.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(c, http.StatusNotFound, library.ErrNotFound.Error())
		return 0, false
	}
	return id, true
}

func (s *Server) ListBooks(c *gin.Context) {
	books, err := s.mgr.ListBooks(c.Request.Context())
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"books": books})
}

// GetBook looks a book up by its catalog id and, for a signed-in caller, includes their
// active loan of it.
func (s *Server) GetBook(c *gin.Context) {
	ctx := c.Request.Context()
	book, err := s.mgr.GetBookByExternalID(ctx, c.Param("id"))
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}

	resp := gin.H{"book": book}
	if caller, ok := identityFrom(c); ok {
		current, err := s.mgr.CurrentBorrow(ctx, caller, book.ID)
		if err != nil {
			HandleServiceError(c, s.log, err)
			return
		}
		resp["currentBorrow"] = current
	}
	SuccessResponse(c, http.StatusOK, resp)
}

func (s *Server) ListCategories(c *gin.Context) {
	cats, err := s.mgr.ListCategories(c.Request.Context())
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"categories": cats})
}

func (s *Server) AddBook(c *gin.Context) {
	in, ok := s.bindBook(c)
	if !ok {
		return
	}
	book, err := s.mgr.AddBook(c.Request.Context(), mustIdentity(c), in)
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{"message": "Book '" + book.Title + "' added successfully!", "book": book})
}

func (s *Server) UpdateBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	in, ok := s.bindBook(c)
	if !ok {
		return
	}
	book, err := s.mgr.UpdateBook(c.Request.Context(), mustIdentity(c), id, in)
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Book '" + book.Title + "' updated successfully!", "book": book})
}

func (s *Server) DeleteBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	book, err := s.mgr.DeleteBook(c.Request.Context(), mustIdentity(c), id)
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Book '" + book.Title + "' deleted successfully."})
}

func (s *Server) bindBook(c *gin.Context) (library.BookInput, bool) {
	// Permission is checked before the body is looked at.
	if !mustIdentity(c).IsAdmin {
		ErrorResponse(c, http.StatusForbidden, library.ErrForbidden.Error())
		return library.BookInput{}, false
	}

	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return library.BookInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		HandleServiceError(c, s.log, err)
		return library.BookInput{}, false
	}
	return in, true
}
