package library

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, opts ...Option) (*LibraryManager, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	opts = append([]Option{
		WithLogger(logger),
		WithClock(func() time.Time { return t0.Add(123 * time.Millisecond) }),
	}, opts...)

	mgr, err := NewLibraryManager(filepath.Join(t.TempDir(), "lib.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, hook
}

func signup(t *testing.T, mgr *LibraryManager, name string, admin bool) Identity {
	t.Helper()
	u, err := mgr.CreateUser(context.Background(), name, name+"@example.com", "password123", admin)
	require.NoError(t, err)
	return IdentityOf(u)
}

func validBook(id string, copies int) BookInput {
	return BookInput{ExternalID: id, Title: "Title " + id, Author: "Author", Description: "Description", TotalCopies: copies}
}

func TestManagerCatalogRequiresAdmin(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)
	member := signup(t, mgr, "alice", false)

	_, err := mgr.AddBook(ctx, member, validBook("B1", 1))
	assert.ErrorIs(t, err, ErrForbidden)

	book, err := mgr.AddBook(ctx, admin, validBook("B1", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, book.AvailableCopies)

	_, err = mgr.UpdateBook(ctx, member, book.ID, validBook("B1", 2))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = mgr.DeleteBook(ctx, member, book.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = mgr.ListActiveBorrows(ctx, member)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = mgr.AdminStats(ctx, member)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := mgr.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalCopies, "forbidden update must not change the book")
}

func TestManagerValidation(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)

	pages := 0
	in := BookInput{
		ExternalID:  "  ",
		Title:       string(make([]byte, 256)),
		Author:      "A",
		TotalCopies: -1,
		Pages:       &pages,
	}
	_, err := mgr.AddBook(ctx, admin, in)
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"bookId", "bookName", "description", "totalCopies", "pages"} {
		assert.Contains(t, verr.Fields, field)
	}
	assert.NotContains(t, verr.Fields, "author")

	books, err := mgr.ListBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestManagerTrimsBookInput(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)

	in := validBook("  B1 ", 1)
	in.ISBN = "   "
	book, err := mgr.AddBook(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, "B1", book.ExternalID)
	assert.Nil(t, book.ISBN)

	byExt, err := mgr.GetBookByExternalID(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, book.ID, byExt.ID)
}

func TestManagerBorrowAndReturn(t *testing.T) {
	mgr, hook := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)
	alice := signup(t, mgr, "alice", false)
	book, err := mgr.AddBook(ctx, admin, validBook("B1", 1))
	require.NoError(t, err)

	receipt, err := mgr.Borrow(ctx, alice, book.ID)
	require.NoError(t, err)
	assert.True(t, receipt.Record.BorrowTime.Equal(t0), "clock is truncated to seconds")
	assert.True(t, receipt.Record.DueTime.Equal(t0.Add(LoanPeriod)))

	current, err := mgr.CurrentBorrow(ctx, alice, book.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, receipt.Record.ID, current.ID)

	active, err := mgr.ListActiveBorrows(ctx, admin)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].Username)

	_, err = mgr.Borrow(ctx, admin, book.ID)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	_, err = mgr.Return(ctx, alice, receipt.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "Book returned", hook.LastEntry().Message)

	_, err = mgr.Return(ctx, alice, receipt.Record.ID)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
}

func TestManagerClampIsLogged(t *testing.T) {
	mgr, hook := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)
	alice := signup(t, mgr, "alice", false)
	bob := signup(t, mgr, "bob", false)

	book, err := mgr.AddBook(ctx, admin, validBook("B1", 5))
	require.NoError(t, err)
	ra, err := mgr.Borrow(ctx, alice, book.ID)
	require.NoError(t, err)
	_, err = mgr.Borrow(ctx, bob, book.ID)
	require.NoError(t, err)

	updated, err := mgr.UpdateBook(ctx, admin, book.ID, validBook("B1", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, updated.AvailableCopies)

	hook.Reset()
	receipt, err := mgr.Return(ctx, alice, ra.Record.ID)
	require.NoError(t, err)
	assert.True(t, receipt.Clamped)
	assert.Equal(t, 1, receipt.Book.AvailableCopies)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "clamped return should log a warning")
}

func TestManagerDeleteBook(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)
	alice := signup(t, mgr, "alice", false)
	book, err := mgr.AddBook(ctx, admin, validBook("B1", 1))
	require.NoError(t, err)

	r, err := mgr.Borrow(ctx, alice, book.ID)
	require.NoError(t, err)
	_, err = mgr.DeleteBook(ctx, admin, book.ID)
	require.ErrorIs(t, err, ErrBookInUse)

	_, err = mgr.Return(ctx, admin, r.Record.ID)
	require.NoError(t, err)
	_, err = mgr.DeleteBook(ctx, admin, book.ID)
	require.NoError(t, err)

	_, err = mgr.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignupAndAuthenticate(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	u, err := mgr.Signup(ctx, " alice ", "alice@example.com", "password123", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NotEqual(t, "password123", u.PasswordHash)
	assert.True(t, u.CreatedAt.Equal(t0))

	got, err := mgr.Authenticate(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = mgr.Authenticate(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = mgr.Authenticate(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = mgr.Signup(ctx, "alice", "other@example.com", "password123", false)
	assert.ErrorIs(t, err, ErrDuplicateUsername)
	_, err = mgr.Signup(ctx, "alice2", "alice@example.com", "password123", false)
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	_, err = mgr.Signup(ctx, "", "bad-email", "short", false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "username")
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
}

func TestAccountValidation(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	long := strings.Repeat("p", 80)

	_, err := mgr.Signup(ctx, "bob", "@", "password123", false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "email")

	_, err = mgr.Signup(ctx, "alice", "a@example.com", long, false)
	require.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrStorage)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "password")

	_, err = mgr.CreateUser(ctx, "alice", "a@example.com", long, true)
	require.ErrorIs(t, err, ErrValidation)

	// 72 bytes is the most bcrypt accepts.
	alice, err := mgr.Signup(ctx, "alice", "a@example.com", strings.Repeat("p", 72), false)
	require.NoError(t, err)
	err = mgr.ResetPassword(ctx, alice.ID, long)
	require.ErrorIs(t, err, ErrValidation)
	// Multi-byte runes count by bytes: 40 runes of 2 bytes each.
	err = mgr.ResetPassword(ctx, alice.ID, strings.Repeat("é", 40))
	require.ErrorIs(t, err, ErrValidation)

	users, err := mgr.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestManagerCategoryNameLimit(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)

	in := validBook("B1", 1)
	in.Categories = []string{"Fiction", strings.Repeat("c", maxCategoryLen+1)}
	_, err := mgr.AddBook(ctx, admin, in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "categories")

	in.Categories = []string{"  " + strings.Repeat("c", maxCategoryLen) + "  "}
	book, err := mgr.AddBook(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, []string{strings.Repeat("c", maxCategoryLen)}, book.Categories)
}

func TestSignupAdminFlag(t *testing.T) {
	ctx := context.Background()

	mgr, _ := newManager(t)
	u, err := mgr.Signup(ctx, "eve", "eve@example.com", "password123", true)
	require.NoError(t, err)
	assert.False(t, u.IsAdmin, "admin signup is disabled by default")

	open, _ := newManager(t, WithAdminSignup(true))
	u, err = open.Signup(ctx, "root", "root@example.com", "password123", true)
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
}

func TestResetPassword(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	alice := signup(t, mgr, "alice", false)

	require.ErrorIs(t, mgr.ResetPassword(ctx, alice.UserID, "short"), ErrValidation)
	require.NoError(t, mgr.ResetPassword(ctx, alice.UserID, "new-password"))
	require.ErrorIs(t, mgr.ResetPassword(ctx, 9999, "new-password"), ErrNotFound)

	_, err := mgr.Authenticate(ctx, "alice", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = mgr.Authenticate(ctx, "alice", "new-password")
	assert.NoError(t, err)

	users, err := mgr.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestManagerDashboards(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := signup(t, mgr, "root", true)
	alice := signup(t, mgr, "alice", false)

	book, err := mgr.AddBook(ctx, admin, validBook("B1", 3))
	require.NoError(t, err)
	_, err = mgr.Borrow(ctx, alice, book.ID)
	require.NoError(t, err)

	stats, err := mgr.AdminStats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalBooks: 1, AvailableCopies: 2, ActiveBorrows: 1, TotalUsers: 2}, *stats)

	dash, err := mgr.MemberDashboard(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, dash.Current, 1)
	assert.Empty(t, dash.Past)
	assert.Empty(t, dash.Suggested, "held books are not suggested")
}
