package library

import "time"

// LoanPeriod is how long a borrower may keep a copy.
const LoanPeriod = 14 * 24 * time.Hour

// Book is one catalog title and the copy counters shared by all its loans.
// AvailableCopies stays within [0, TotalCopies].
type Book struct {
	ID              int64      `db:"id" json:"id"`
	ExternalID      string     `db:"external_id" json:"bookId"`
	Title           string     `db:"title" json:"bookName"`
	Author          string     `db:"author" json:"author"`
	Description     string     `db:"description" json:"description"`
	Publisher       string     `db:"publisher" json:"publisher,omitempty"`
	PublicationDate *time.Time `db:"publication_date" json:"publicationDate,omitempty"`
	Language        string     `db:"language" json:"language,omitempty"`
	Pages           *int       `db:"pages" json:"pages,omitempty"`
	ISBN            *string    `db:"isbn" json:"isbn,omitempty"`
	TotalCopies     int        `db:"total_copies" json:"totalCopies"`
	AvailableCopies int        `db:"available_copies" json:"availableCopies"`
	Categories      []string   `db:"-" json:"categories"`
}

// IsAvailable reports whether at least one copy can be borrowed.
func (b *Book) IsAvailable() bool { return b.AvailableCopies > 0 }

// Category is a free-form label attached to books by name.
type Category struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// User is a registered account. PasswordHash never leaves the process.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsAdmin      bool      `db:"is_admin" json:"isAdmin"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Identity is the caller on whose behalf an operation runs.
type Identity struct {
	UserID   int64
	Username string
	IsAdmin  bool
}

// IdentityOf returns the identity of an account.
func IdentityOf(u *User) Identity {
	return Identity{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

// BorrowRecord is one loan of one copy. It is active while ReturnTime is nil.
type BorrowRecord struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"userId"`
	BookID     int64      `db:"book_id" json:"bookId"`
	BorrowTime time.Time  `db:"borrow_time" json:"borrowTime"`
	DueTime    time.Time  `db:"due_time" json:"dueTime"`
	ReturnTime *time.Time `db:"return_time" json:"returnTime,omitempty"`
}

// IsReturned reports whether the loan has ended.
func (r *BorrowRecord) IsReturned() bool { return r.ReturnTime != nil }

// BorrowView is a borrow record joined with the names a listing shows.
type BorrowView struct {
	BorrowRecord
	Username       string `db:"username" json:"username"`
	BookTitle      string `db:"book_title" json:"bookTitle"`
	BookExternalID string `db:"book_external_id" json:"bookExternalId"`
}

// BookInput carries the editable fields of a book as submitted by an administrator.
type BookInput struct {
	ExternalID      string     `json:"bookId" validate:"required,max=20"`
	Title           string     `json:"bookName" validate:"required,max=255"`
	Author          string     `json:"author" validate:"required,max=255"`
	Description     string     `json:"description" validate:"required"`
	Publisher       string     `json:"publisher" validate:"max=255"`
	PublicationDate *time.Time `json:"publicationDate"`
	Language        string     `json:"language" validate:"max=50"`
	Pages           *int       `json:"pages" validate:"omitempty,min=1"`
	ISBN            string     `json:"isbn" validate:"max=20"`
	TotalCopies     int        `json:"totalCopies" validate:"min=0"`
	Categories      []string   `json:"categories" validate:"dive,max=100"`
}

// Stats summarises the catalog for the admin dashboard.
type Stats struct {
	TotalBooks      int `db:"total_books" json:"totalBooks"`
	AvailableCopies int `db:"available_copies" json:"availableCopies"`
	ActiveBorrows   int `db:"active_borrows" json:"activeBorrows"`
	TotalUsers      int `db:"total_users" json:"totalUsers"`
}

// Dashboard is what a member sees about their own loans.
type Dashboard struct {
	Current   []*BorrowView `json:"current"`
	Past      []*BorrowView `json:"past"`
	Suggested []*Book       `json:"suggested"`
}
