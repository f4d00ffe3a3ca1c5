package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

var recordColumns = []any{"id", "user_id", "book_id", "borrow_time", "due_time", "return_time"}

// Receipt is the outcome of a borrow or return: the record as stored and the book's
// counters after the change.
type Receipt struct {
	Record *BorrowRecord
	Book   *Book
	// Clamped is set when a return found the counter already at total_copies.
	Clamped bool
}

// BorrowBook lends one copy of bookID to userID. The availability check, the decrement and
// the new record share one transaction.
func (d *Database) BorrowBook(ctx context.Context, userID, bookID int64, now time.Time) (*Receipt, error) {
	var receipt *Receipt
	err := d.withTx(ctx, "borrow book", func(tx *sqlx.Tx) error {
		book, err := d.lockBook(ctx, tx, bookID)
		if err != nil {
			return err
		}

		var users int
		if err := getx(ctx, tx, &users, d.from("users").Select(goqu.COUNT("*")).Where(goqu.C("id").Eq(userID))); err != nil {
			return err
		}
		if users == 0 {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}

		if !book.IsAvailable() {
			return fmt.Errorf("%q: %w", book.Title, ErrUnavailable)
		}

		var active int
		countActive := d.from("borrow_records").Select(goqu.COUNT("*")).Where(
			goqu.C("user_id").Eq(userID),
			goqu.C("book_id").Eq(bookID),
			goqu.C("return_time").IsNull(),
		)
		if err := getx(ctx, tx, &active, countActive); err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%q: %w", book.Title, ErrDuplicateBorrow)
		}

		decrement := d.update("books").
			Set(goqu.Record{"available_copies": goqu.L("available_copies - 1")}).
			Where(goqu.C("id").Eq(bookID), goqu.C("available_copies").Gt(0))
		res, err := execx(ctx, tx, decrement)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return fmt.Errorf("%q: %w", book.Title, ErrUnavailable)
		}
		book.AvailableCopies--

		rec := &BorrowRecord{
			UserID:     userID,
			BookID:     bookID,
			BorrowTime: now,
			DueTime:    now.Add(LoanPeriod),
		}
		rec.ID, err = d.insertID(ctx, tx, "borrow_records", goqu.Record{
			"user_id":     rec.UserID,
			"book_id":     rec.BookID,
			"borrow_time": rec.BorrowTime,
			"due_time":    rec.DueTime,
		})
		if err != nil {
			return err
		}

		receipt = &Receipt{Record: rec, Book: book}
		return nil
	})
	return receipt, err
}

// ReturnBook ends the loan recorded under recordID on behalf of caller. Only the borrower
// or an administrator may return it, and only once.
func (d *Database) ReturnBook(ctx context.Context, caller Identity, recordID int64, now time.Time) (*Receipt, error) {
	var receipt *Receipt
	err := d.withTx(ctx, "return book", func(tx *sqlx.Tx) error {
		var rec BorrowRecord
		if err := getx(ctx, tx, &rec, d.from("borrow_records").Select(recordColumns...).Where(goqu.C("id").Eq(recordID))); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("borrow record %d: %w", recordID, ErrNotFound)
			}
			return err
		}
		if rec.UserID != caller.UserID && !caller.IsAdmin {
			return fmt.Errorf("return record %d: %w", recordID, ErrForbidden)
		}
		if rec.IsReturned() {
			return fmt.Errorf("borrow record %d: %w", recordID, ErrAlreadyReturned)
		}

		book, err := d.lockBook(ctx, tx, rec.BookID)
		if err != nil {
			return err
		}

		markReturned := d.update("borrow_records").
			Set(goqu.Record{"return_time": now}).
			Where(goqu.C("id").Eq(recordID), goqu.C("return_time").IsNull())
		res, err := execx(ctx, tx, markReturned)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return fmt.Errorf("borrow record %d: %w", recordID, ErrAlreadyReturned)
		}
		rec.ReturnTime = &now

		receipt = &Receipt{Record: &rec, Book: book}
		available := book.AvailableCopies + 1
		if available > book.TotalCopies {
			available = book.TotalCopies
			receipt.Clamped = true
		}
		setAvailable := d.update("books").
			Set(goqu.Record{"available_copies": available}).
			Where(goqu.C("id").Eq(book.ID))
		if _, err := execx(ctx, tx, setAvailable); err != nil {
			return err
		}
		book.AvailableCopies = available
		return nil
	})
	return receipt, err
}

// GetBorrowRecord loads one record by id.
func (d *Database) GetBorrowRecord(ctx context.Context, id int64) (*BorrowRecord, error) {
	var rec BorrowRecord
	if err := getx(ctx, d.db, &rec, d.from("borrow_records").Select(recordColumns...).Where(goqu.C("id").Eq(id))); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("borrow record %d: %w", id, ErrNotFound)
		}
		return nil, storageError("get borrow record", err)
	}
	return &rec, nil
}

// ActiveBorrow returns the user's active record for a book, or nil when there is none.
func (d *Database) ActiveBorrow(ctx context.Context, userID, bookID int64) (*BorrowRecord, error) {
	var rec BorrowRecord
	ds := d.from("borrow_records").Select(recordColumns...).Where(
		goqu.C("user_id").Eq(userID),
		goqu.C("book_id").Eq(bookID),
		goqu.C("return_time").IsNull(),
	)
	if err := getx(ctx, d.db, &rec, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageError("get active borrow", err)
	}
	return &rec, nil
}

// GetActiveBorrows lists every unreturned record ordered by due time, then username.
func (d *Database) GetActiveBorrows(ctx context.Context) ([]*BorrowView, error) {
	views := []*BorrowView{}
	ds := d.borrowViews().
		Where(goqu.I("r.return_time").IsNull()).
		Order(goqu.I("r.due_time").Asc(), goqu.I("u.username").Asc())
	if err := selectx(ctx, d.db, &views, ds); err != nil {
		return nil, storageError("list active borrows", err)
	}
	return views, nil
}

// borrowViews selects records joined with the borrower's name and the book's title.
func (d *Database) borrowViews() *goqu.SelectDataset {
	return d.from(goqu.T("borrow_records").As("r")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.user_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Select(
			goqu.I("r.id").As("id"),
			goqu.I("r.user_id").As("user_id"),
			goqu.I("r.book_id").As("book_id"),
			goqu.I("r.borrow_time").As("borrow_time"),
			goqu.I("r.due_time").As("due_time"),
			goqu.I("r.return_time").As("return_time"),
			goqu.I("u.username").As("username"),
			goqu.I("b.title").As("book_title"),
			goqu.I("b.external_id").As("book_external_id"),
		)
}
