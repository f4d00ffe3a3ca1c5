package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// LibraryManager is what the request layer and the CLI talk to. It checks permissions and
// validates input; Database does the transactional work.
type LibraryManager struct {
	db               *Database
	log              logrus.FieldLogger
	now              func() time.Time
	allowAdminSignup bool
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(lm *LibraryManager) { lm.log = log }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(lm *LibraryManager) { lm.now = now }
}

// WithAdminSignup lets Signup create administrator accounts.
func WithAdminSignup(allow bool) Option {
	return func(lm *LibraryManager) { lm.allowAdminSignup = allow }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	return OpenLibraryManager(DriverSQLite, dbPath, opts...)
}

// OpenLibraryManager connects to the given database driver.
func OpenLibraryManager(driver, dsn string, opts ...Option) (*LibraryManager, error) {
	db, err := Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewLibraryManagerWithDB(db, opts...), nil
}

// NewLibraryManagerWithDB wraps an open Database.
func NewLibraryManagerWithDB(db *Database, opts ...Option) *LibraryManager {
	lm := &LibraryManager{
		db:  db,
		log: logrus.StandardLogger(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// clock returns the current time at the second precision the store keeps.
func (lm *LibraryManager) clock() time.Time {
	return lm.now().UTC().Truncate(time.Second)
}

func requireAdmin(caller Identity, action string) error {
	if !caller.IsAdmin {
		return fmt.Errorf("%s: %w", action, ErrForbidden)
	}
	return nil
}

// logFailure logs rejected requests at Warn and storage failures at Error.
func logFailure(log logrus.FieldLogger, err error, msg string) {
	if errors.Is(err, ErrStorage) {
		log.WithError(err).Error(msg)
		return
	}
	log.WithError(err).Warn(msg)
}

// ------------------ Catalog ------------------

func (lm *LibraryManager) ListBooks(ctx context.Context) ([]*Book, error) {
	return lm.db.GetAllBooks(ctx)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) GetBookByExternalID(ctx context.Context, externalID string) (*Book, error) {
	return lm.db.GetBookByExternalID(ctx, externalID)
}

func (lm *LibraryManager) ListCategories(ctx context.Context) ([]*Category, error) {
	return lm.db.GetAllCategories(ctx)
}

// AddBook creates a book with every copy available. Administrators only.
func (lm *LibraryManager) AddBook(ctx context.Context, caller Identity, in BookInput) (*Book, error) {
	log := lm.log.WithFields(logrus.Fields{"user_id": caller.UserID, "book": in.ExternalID})
	if err := requireAdmin(caller, "add book"); err != nil {
		log.Warn("Add book rejected: not an administrator")
		return nil, err
	}
	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	book, err := lm.db.AddBook(ctx, in)
	if err != nil {
		logFailure(log, err, "Add book failed")
		return nil, err
	}
	log.WithField("book_id", book.ID).Info("Book added")
	return book, nil
}

// UpdateBook edits a book. Administrators only.
func (lm *LibraryManager) UpdateBook(ctx context.Context, caller Identity, id int64, in BookInput) (*Book, error) {
	log := lm.log.WithFields(logrus.Fields{"user_id": caller.UserID, "book_id": id})
	if err := requireAdmin(caller, "update book"); err != nil {
		log.Warn("Update book rejected: not an administrator")
		return nil, err
	}
	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	book, err := lm.db.UpdateBook(ctx, id, in)
	if err != nil {
		logFailure(log, err, "Update book failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"total_copies":     book.TotalCopies,
		"available_copies": book.AvailableCopies,
	}).Info("Book updated")
	return book, nil
}

// DeleteBook removes a book that nobody is currently borrowing. Administrators only.
func (lm *LibraryManager) DeleteBook(ctx context.Context, caller Identity, id int64) (*Book, error) {
	log := lm.log.WithFields(logrus.Fields{"user_id": caller.UserID, "book_id": id})
	if err := requireAdmin(caller, "delete book"); err != nil {
		log.Warn("Delete book rejected: not an administrator")
		return nil, err
	}

	book, err := lm.db.DeleteBook(ctx, id)
	if err != nil {
		logFailure(log, err, "Delete book failed")
		return nil, err
	}
	log.Info("Book deleted")
	return book, nil
}

// ------------------ Circulation ------------------

// Borrow lends one copy of the book to the caller for LoanPeriod.
func (lm *LibraryManager) Borrow(ctx context.Context, caller Identity, bookID int64) (*Receipt, error) {
	log := lm.log.WithFields(logrus.Fields{"user_id": caller.UserID, "book_id": bookID})

	receipt, err := lm.db.BorrowBook(ctx, caller.UserID, bookID, lm.clock())
	if err != nil {
		logFailure(log, err, "Borrow failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"record_id":        receipt.Record.ID,
		"available_copies": receipt.Book.AvailableCopies,
	}).Info("Book borrowed")
	return receipt, nil
}

// Return ends a loan. The caller must be the borrower or an administrator.
func (lm *LibraryManager) Return(ctx context.Context, caller Identity, recordID int64) (*Receipt, error) {
	log := lm.log.WithFields(logrus.Fields{"user_id": caller.UserID, "record_id": recordID})

	receipt, err := lm.db.ReturnBook(ctx, caller, recordID, lm.clock())
	if err != nil {
		logFailure(log, err, "Return failed")
		return nil, err
	}
	log = log.WithFields(logrus.Fields{
		"book_id":          receipt.Book.ID,
		"available_copies": receipt.Book.AvailableCopies,
	})
	if receipt.Clamped {
		log.WithField("total_copies", receipt.Book.TotalCopies).
			Warn("Available copies already at total on return; clamped")
	}
	log.Info("Book returned")
	return receipt, nil
}

// CurrentBorrow returns the caller's active record for a book, or nil.
func (lm *LibraryManager) CurrentBorrow(ctx context.Context, caller Identity, bookID int64) (*BorrowRecord, error) {
	return lm.db.ActiveBorrow(ctx, caller.UserID, bookID)
}

// ListActiveBorrows lists every unreturned loan. Administrators only.
func (lm *LibraryManager) ListActiveBorrows(ctx context.Context, caller Identity) ([]*BorrowView, error) {
	if err := requireAdmin(caller, "list borrowed books"); err != nil {
		lm.log.WithField("user_id", caller.UserID).Warn("List active borrows rejected: not an administrator")
		return nil, err
	}
	return lm.db.GetActiveBorrows(ctx)
}

// ------------------ Accounts ------------------

// Signup registers a member. isAdmin is honoured only when admin signup is enabled.
func (lm *LibraryManager) Signup(ctx context.Context, username, email, password string, isAdmin bool) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	log := lm.log.WithFields(logrus.Fields{"username": username, "email": email})

	if err := validateSignup(username, email, password); err != nil {
		return nil, err
	}
	if isAdmin && !lm.allowAdminSignup {
		log.Warn("Admin signup requested but disabled; creating member account")
		isAdmin = false
	}
	return lm.createUser(ctx, log, username, email, password, isAdmin)
}

// CreateUser registers an account with the given role. It is the operator path used by
// the CLI and ignores the admin-signup setting.
func (lm *LibraryManager) CreateUser(ctx context.Context, username, email, password string, isAdmin bool) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := validateSignup(username, email, password); err != nil {
		return nil, err
	}
	return lm.createUser(ctx, lm.log.WithField("username", username), username, email, password, isAdmin)
}

func (lm *LibraryManager) createUser(ctx context.Context, log logrus.FieldLogger, username, email, password string, isAdmin bool) (*User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		log.WithError(err).Error("Failed to hash password")
		return nil, fmt.Errorf("hash password: %w", ErrStorage)
	}

	u := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		CreatedAt:    lm.clock(),
	}
	if err := lm.db.AddUser(ctx, u); err != nil {
		logFailure(log, err, "Signup failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{"user_id": u.ID, "is_admin": u.IsAdmin}).Info("User registered")
	return u, nil
}

// Authenticate checks a username and password. Unknown users and wrong passwords both
// yield ErrInvalidCredentials.
func (lm *LibraryManager) Authenticate(ctx context.Context, username, password string) (*User, error) {
	log := lm.log.WithField("username", username)

	u, err := lm.db.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn("Login failed: unknown user")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		log.Warn("Login failed: wrong password")
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// ResetPassword stores a new password for the user.
func (lm *LibraryManager) ResetPassword(ctx context.Context, userID int64, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", ErrStorage)
	}
	if err := lm.db.SetPasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	lm.log.WithField("user_id", userID).Info("Password reset")
	return nil
}

func (lm *LibraryManager) GetUser(ctx context.Context, id int64) (*User, error) {
	return lm.db.GetUser(ctx, id)
}

func (lm *LibraryManager) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return lm.db.GetUserByUsername(ctx, strings.TrimSpace(username))
}

func (lm *LibraryManager) ListUsers(ctx context.Context) ([]*User, error) {
	return lm.db.GetAllUsers(ctx)
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ------------------ Dashboards ------------------

// AdminStats returns catalog-wide counts. Administrators only.
func (lm *LibraryManager) AdminStats(ctx context.Context, caller Identity) (*Stats, error) {
	if err := requireAdmin(caller, "view statistics"); err != nil {
		return nil, err
	}
	return lm.db.GetStats(ctx)
}

// MemberDashboard returns the caller's loans and a few suggestions.
func (lm *LibraryManager) MemberDashboard(ctx context.Context, caller Identity) (*Dashboard, error) {
	return lm.db.GetDashboard(ctx, caller.UserID)
}
