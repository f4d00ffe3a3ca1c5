package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"library-catalog/library"
)

// statusFor maps library sentinels to HTTP statuses.
var statusFor = []struct {
	err    error
	status int
}{
	{library.ErrNotFound, http.StatusNotFound},
	{library.ErrForbidden, http.StatusForbidden},
	{library.ErrInvalidCredentials, http.StatusUnauthorized},
	{library.ErrUnavailable, http.StatusConflict},
	{library.ErrDuplicateBorrow, http.StatusConflict},
	{library.ErrAlreadyReturned, http.StatusConflict},
	{library.ErrBookInUse, http.StatusConflict},
	{library.ErrDuplicateIdentifier, http.StatusConflict},
	{library.ErrDuplicateISBN, http.StatusConflict},
	{library.ErrDuplicateUsername, http.StatusConflict},
	{library.ErrDuplicateEmail, http.StatusConflict},
}

// HandleServiceError writes the response for an error returned by the library manager.
// Storage failures are logged and reported with a generic message.
func HandleServiceError(c *gin.Context, log logrus.FieldLogger, err error) {
	var verr *library.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": library.ErrValidation.Error(), "errors": verr.Fields})
		return
	}

	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			// Clients see the sentinel's text, not the wrapped detail.
			ErrorResponse(c, m.status, m.err.Error())
			return
		}
	}

	log.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("Unhandled internal server error")
	ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
}
