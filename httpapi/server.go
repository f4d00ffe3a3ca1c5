package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"library-catalog/library"
)

// Server exposes the library manager as a JSON API.
type Server struct {
	mgr    *library.LibraryManager
	tokens *TokenIssuer
	log    logrus.FieldLogger
}

func NewServer(mgr *library.LibraryManager, tokens *TokenIssuer, log logrus.FieldLogger) *Server {
	return &Server{mgr: mgr, tokens: tokens, log: log}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(s.log))

	optional, required := s.Auth(false), s.Auth(true)

	api := r.Group("/api")
	{
		api.POST("/signup", s.Signup)
		api.POST("/login", s.Login)
		api.POST("/logout", required, s.Logout)

		api.GET("/categories", s.ListCategories)
		api.GET("/books", s.ListBooks)
		api.GET("/books/:id", optional, s.GetBook)
		api.POST("/books", required, s.AddBook)
		api.PUT("/books/:id", required, s.UpdateBook)
		api.DELETE("/books/:id", required, s.DeleteBook)
		api.POST("/books/:id/borrow", required, s.Borrow)

		api.GET("/borrows/active", required, s.ListActiveBorrows)
		api.POST("/borrows/:id/return", required, s.Return)

		api.GET("/admin/stats", required, s.AdminStats)
		api.GET("/me/dashboard", required, s.Dashboard)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
