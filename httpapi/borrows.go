package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) Borrow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	receipt, err := s.mgr.Borrow(c.Request.Context(), mustIdentity(c), id)
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{
		"message": fmt.Sprintf("%q borrowed! Due: %s.", receipt.Book.Title, receipt.Record.DueTime.Format("Jan 02, 2006")),
		"record":  receipt.Record,
		"book":    receipt.Book,
	})
}

func (s *Server) Return(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	receipt, err := s.mgr.Return(c.Request.Context(), mustIdentity(c), id)
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{
		"message": fmt.Sprintf("%q returned successfully.", receipt.Book.Title),
		"record":  receipt.Record,
		"book":    receipt.Book,
	})
}

func (s *Server) ListActiveBorrows(c *gin.Context) {
	views, err := s.mgr.ListActiveBorrows(c.Request.Context(), mustIdentity(c))
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"borrows": views})
}

func (s *Server) AdminStats(c *gin.Context) {
	stats, err := s.mgr.AdminStats(c.Request.Context(), mustIdentity(c))
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, stats)
}

func (s *Server) Dashboard(c *gin.Context) {
	dash, err := s.mgr.MemberDashboard(c.Request.Context(), mustIdentity(c))
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dash)
}
