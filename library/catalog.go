package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

var bookColumns = []any{
	"id", "external_id", "title", "author", "description", "publisher", "publication_date",
	"language", "pages", "isbn", "total_copies", "available_copies",
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetBook loads a book and its category names by primary key.
func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	return d.getBookWhere(ctx, goqu.C("id").Eq(id), fmt.Sprintf("book %d", id))
}

// GetBookByExternalID loads a book by its catalog identifier.
func (d *Database) GetBookByExternalID(ctx context.Context, externalID string) (*Book, error) {
	return d.getBookWhere(ctx, goqu.C("external_id").Eq(externalID), fmt.Sprintf("book %q", externalID))
}

func (d *Database) getBookWhere(ctx context.Context, where exp.Expression, what string) (*Book, error) {
	var b Book
	if err := getx(ctx, d.db, &b, d.from("books").Select(bookColumns...).Where(where)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, storageError("get book", err)
	}
	if err := d.attachCategories(ctx, d.db, []*Book{&b}); err != nil {
		return nil, storageError("get book", err)
	}
	return &b, nil
}

// GetAllBooks returns every book ordered by title, with category names.
func (d *Database) GetAllBooks(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	ds := d.from("books").Select(bookColumns...).Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	if err := selectx(ctx, d.db, &books, ds); err != nil {
		return nil, storageError("list books", err)
	}
	if err := d.attachCategories(ctx, d.db, books); err != nil {
		return nil, storageError("list books", err)
	}
	return books, nil
}

// GetAllCategories returns every category ordered by name.
func (d *Database) GetAllCategories(ctx context.Context) ([]*Category, error) {
	cats := []*Category{}
	if err := selectx(ctx, d.db, &cats, d.from("categories").Select("id", "name").Order(goqu.C("name").Asc())); err != nil {
		return nil, storageError("list categories", err)
	}
	return cats, nil
}

type bookCategory struct {
	BookID int64  `db:"book_id"`
	Name   string `db:"name"`
}

func (d *Database) attachCategories(ctx context.Context, q sqlx.QueryerContext, books []*Book) error {
	if len(books) == 0 {
		return nil
	}
	byID := make(map[int64]*Book, len(books))
	ids := make([]int64, 0, len(books))
	for _, b := range books {
		b.Categories = []string{}
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	ds := d.from(goqu.T("book_categories").As("bc")).
		Join(goqu.T("categories").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("bc.category_id")))).
		Select(goqu.I("bc.book_id").As("book_id"), goqu.I("c.name").As("name")).
		Where(goqu.I("bc.book_id").In(ids)).
		Order(goqu.I("c.name").Asc())

	var rows []bookCategory
	if err := selectx(ctx, q, &rows, ds); err != nil {
		return err
	}
	for _, r := range rows {
		if b, ok := byID[r.BookID]; ok {
			b.Categories = append(b.Categories, r.Name)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// AddBook inserts a book with all copies available and links its categories.
func (d *Database) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	var book *Book
	err := d.withTx(ctx, "add book", func(tx *sqlx.Tx) error {
		if err := d.checkBookUnique(ctx, tx, in, 0); err != nil {
			return err
		}

		rec := bookRecord(in)
		rec["available_copies"] = in.TotalCopies
		id, err := d.insertID(ctx, tx, "books", rec)
		if err != nil {
			return err
		}
		if err := d.setCategories(ctx, tx, id, in.Categories); err != nil {
			return err
		}

		book, err = d.loadBook(ctx, tx, id)
		return err
	})
	return book, err
}

// UpdateBook replaces the editable fields and the category set of a book. Lowering
// total_copies below available_copies clamps available_copies; loans are left alone.
func (d *Database) UpdateBook(ctx context.Context, id int64, in BookInput) (*Book, error) {
	var book *Book
	err := d.withTx(ctx, "update book", func(tx *sqlx.Tx) error {
		current, err := d.lockBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := d.checkBookUnique(ctx, tx, in, id); err != nil {
			return err
		}

		rec := bookRecord(in)
		rec["available_copies"] = min(current.AvailableCopies, in.TotalCopies)
		if _, err := execx(ctx, tx, d.update("books").Set(rec).Where(goqu.C("id").Eq(id))); err != nil {
			return err
		}
		if err := d.setCategories(ctx, tx, id, in.Categories); err != nil {
			return err
		}

		book, err = d.loadBook(ctx, tx, id)
		return err
	})
	return book, err
}

// DeleteBook removes a book together with its returned borrow history. It fails with
// ErrBookInUse while any loan of the book is active.
func (d *Database) DeleteBook(ctx context.Context, id int64) (*Book, error) {
	var book *Book
	err := d.withTx(ctx, "delete book", func(tx *sqlx.Tx) error {
		var err error
		if book, err = d.lockBook(ctx, tx, id); err != nil {
			return err
		}

		var active int
		countActive := d.from("borrow_records").Select(goqu.COUNT("*")).
			Where(goqu.C("book_id").Eq(id), goqu.C("return_time").IsNull())
		if err := getx(ctx, tx, &active, countActive); err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("cannot delete %q: %w", book.Title, ErrBookInUse)
		}

		for _, ds := range []*goqu.DeleteDataset{
			d.delete("borrow_records").Where(goqu.C("book_id").Eq(id)),
			d.delete("book_categories").Where(goqu.C("book_id").Eq(id)),
			d.delete("books").Where(goqu.C("id").Eq(id)),
		} {
			if _, err := execx(ctx, tx, ds); err != nil {
				return err
			}
		}
		return nil
	})
	return book, err
}

// UpsertCategory returns the category with the given name, creating it if needed.
// The name is trimmed; matching is case-sensitive.
func (d *Database) UpsertCategory(ctx context.Context, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if err := validateCategoryName(name); err != nil {
		return nil, err
	}

	var cat *Category
	err := d.withTx(ctx, "upsert category", func(tx *sqlx.Tx) error {
		id, err := d.upsertCategory(ctx, tx, name)
		if err != nil {
			return err
		}
		cat = &Category{ID: id, Name: name}
		return nil
	})
	return cat, err
}

func (d *Database) upsertCategory(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	find := d.from("categories").Select("id").Where(goqu.C("name").Eq(name))

	var id int64
	err := getx(ctx, tx, &id, find)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	if d.driver == DriverPostgres {
		// Another transaction may have inserted the name since the lookup.
		if _, err := execx(ctx, tx, d.categoryInsertIgnoringConflict(name)); err != nil {
			return 0, err
		}
		err = getx(ctx, tx, &id, find)
		return id, err
	}
	return d.insertID(ctx, tx, "categories", goqu.Record{"name": name})
}

func (d *Database) categoryInsertIgnoringConflict(name string) *goqu.InsertDataset {
	return d.insert("categories").Rows(goqu.Record{"name": name}).OnConflict(goqu.DoNothing())
}

// setCategories makes names the exact category set of the book.
func (d *Database) setCategories(ctx context.Context, tx *sqlx.Tx, bookID int64, names []string) error {
	if _, err := execx(ctx, tx, d.delete("book_categories").Where(goqu.C("book_id").Eq(bookID))); err != nil {
		return err
	}

	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		catID, err := d.upsertCategory(ctx, tx, name)
		if err != nil {
			return err
		}
		link := d.insert("book_categories").Rows(goqu.Record{"book_id": bookID, "category_id": catID})
		if _, err := execx(ctx, tx, link); err != nil {
			return err
		}
	}
	return nil
}

// checkBookUnique rejects an external id or non-empty ISBN already used by another book.
func (d *Database) checkBookUnique(ctx context.Context, tx *sqlx.Tx, in BookInput, exclude int64) error {
	taken := func(col, val string) (bool, error) {
		ds := d.from("books").Select(goqu.COUNT("*")).Where(goqu.C(col).Eq(val))
		if exclude != 0 {
			ds = ds.Where(goqu.C("id").Neq(exclude))
		}
		var n int
		if err := getx(ctx, tx, &n, ds); err != nil {
			return false, err
		}
		return n > 0, nil
	}

	if dup, err := taken("external_id", in.ExternalID); err != nil {
		return err
	} else if dup {
		return fmt.Errorf("book id %q: %w", in.ExternalID, ErrDuplicateIdentifier)
	}

	if in.ISBN == "" {
		return nil
	}
	if dup, err := taken("isbn", in.ISBN); err != nil {
		return err
	} else if dup {
		return fmt.Errorf("isbn %q: %w", in.ISBN, ErrDuplicateISBN)
	}
	return nil
}

func (d *Database) loadBook(ctx context.Context, tx *sqlx.Tx, id int64) (*Book, error) {
	var b Book
	if err := getx(ctx, tx, &b, d.from("books").Select(bookColumns...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, err
	}
	if err := d.attachCategories(ctx, tx, []*Book{&b}); err != nil {
		return nil, err
	}
	return &b, nil
}

// bookRecord maps the editable fields to columns. Optional values that are unset become NULL.
func bookRecord(in BookInput) goqu.Record {
	rec := goqu.Record{
		"external_id":      in.ExternalID,
		"title":            in.Title,
		"author":           in.Author,
		"description":      in.Description,
		"publisher":        in.Publisher,
		"language":         in.Language,
		"total_copies":     in.TotalCopies,
		"publication_date": nil,
		"pages":            nil,
		"isbn":             nil,
	}
	if in.PublicationDate != nil {
		rec["publication_date"] = in.PublicationDate.UTC().Truncate(24 * time.Hour)
	}
	if in.Pages != nil {
		rec["pages"] = *in.Pages
	}
	if in.ISBN != "" {
		rec["isbn"] = in.ISBN
	}
	return rec
}
