package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"library-catalog/library"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		})
	}
}

type signupRequest struct {
	Username string `json:"username" binding:"required,max=150"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	IsAdmin  bool   `json:"isAdmin"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if ferr := library.FieldErrors(err); errors.Is(ferr, library.ErrValidation) {
			HandleServiceError(c, s.log, ferr)
			return
		}
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}

	u, err := s.mgr.Signup(c.Request.Context(), req.Username, req.Email, req.Password, req.IsAdmin)
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{"message": "Signup successful. Please log in.", "user": u})
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: username and password required")
		return
	}

	u, err := s.mgr.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		HandleServiceError(c, s.log, err)
		return
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		s.log.WithError(err).Error("Failed to sign token")
		ErrorResponse(c, http.StatusInternalServerError, "Login failed due to server error")
		return
	}

	s.log.WithField("user_id", u.ID).Info("User logged in")
	SuccessResponse(c, http.StatusOK, loginResponse{Token: token, UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin})
}

// Logout only acknowledges; tokens are stateless and expire on their own.
func (s *Server) Logout(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Logged out"})
}
