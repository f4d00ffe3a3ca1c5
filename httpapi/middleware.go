package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"library-catalog/library"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	identityKey     = "identity"
)

var errMissingAuthHeader = errors.New("missing Authorization header")

// RequestID tags every request with an id, reusing the caller's X-Request-ID when it is a UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if parsed, err := uuid.Parse(id); err == nil && len(id) == 36 {
			id = parsed.String()
		} else {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per request once the handler chain has run.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"request_id": c.GetString(requestIDKey),
		})
		if id, ok := identityFrom(c); ok {
			entry = entry.WithField("user_id", id.UserID)
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}

// Auth resolves the bearer token to an Identity. With required set, requests without a
// valid token are rejected with 401; otherwise they continue anonymously.
func (s *Server) Auth(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if !required && errors.Is(err, errMissingAuthHeader) {
				c.Next()
				return
			}
			s.log.WithError(err).Warn("Auth middleware: Error extracting token")
			ErrorResponse(c, http.StatusUnauthorized, "Authorization header is required")
			c.Abort()
			return
		}

		userID, err := s.tokens.Parse(tokenStr)
		if err != nil {
			s.log.WithError(err).Warn("Auth middleware: Invalid token")
			ErrorResponse(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		u, err := s.mgr.GetUser(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, library.ErrNotFound) {
				s.log.WithField("user_id", userID).Warn("Auth middleware: Token for unknown user")
				ErrorResponse(c, http.StatusUnauthorized, "Invalid or expired token")
				c.Abort()
				return
			}
			HandleServiceError(c, s.log, err)
			c.Abort()
			return
		}

		c.Set(identityKey, library.IdentityOf(u))
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

func identityFrom(c *gin.Context) (library.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return library.Identity{}, false
	}
	id, ok := v.(library.Identity)
	return id, ok
}

// mustIdentity is for handlers behind Auth(true).
func mustIdentity(c *gin.Context) library.Identity {
	id, _ := identityFrom(c)
	return id
}
