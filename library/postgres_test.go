package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// dialectOnly returns a Database that can build queries but has no connection.
func dialectOnly(driver string) *Database {
	return &Database{driver: driver, dialect: goqu.Dialect(driver)}
}

func TestPostgresQueries(t *testing.T) {
	pg := dialectOnly(DriverPostgres)

	query, args, err := pg.lockBookQuery(7).ToSQL()
	if err != nil {
		t.Fatalf("lock query: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(query), "FOR UPDATE") {
		t.Fatalf("lock query must take a row lock: %s", query)
	}
	if !strings.Contains(query, `"id" = $1`) || len(args) != 1 || args[0] != int64(7) {
		t.Fatalf("lock query should bind the id: %s %v", query, args)
	}

	query, _, err = pg.insertQuery("books", goqu.Record{"title": "T"}).ToSQL()
	if err != nil {
		t.Fatalf("insert query: %v", err)
	}
	if !strings.Contains(query, `RETURNING "id"`) {
		t.Fatalf("postgres insert must return the id: %s", query)
	}

	query, _, err = pg.categoryInsertIgnoringConflict("Fiction").ToSQL()
	if err != nil {
		t.Fatalf("category query: %v", err)
	}
	if !strings.Contains(query, "ON CONFLICT DO NOTHING") {
		t.Fatalf("category insert must tolerate a concurrent insert: %s", query)
	}
}

func TestSQLiteQueriesSkipPostgresClauses(t *testing.T) {
	lite := dialectOnly(DriverSQLite)

	query, _, err := lite.lockBookQuery(7).ToSQL()
	if err != nil {
		t.Fatalf("lock query: %v", err)
	}
	if strings.Contains(query, "FOR UPDATE") {
		t.Fatalf("sqlite has no row locks: %s", query)
	}

	query, _, err = lite.insertQuery("books", goqu.Record{"title": "T"}).ToSQL()
	if err != nil {
		t.Fatalf("insert query: %v", err)
	}
	if strings.Contains(query, "RETURNING") {
		t.Fatalf("sqlite insert uses LastInsertId: %s", query)
	}
}

func TestPostgresConstraintErrors(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{"books_external_id_key", ErrDuplicateIdentifier},
		{"books_isbn_key", ErrDuplicateISBN},
		{"users_username_key", ErrDuplicateUsername},
		{"users_email_key", ErrDuplicateEmail},
		{"ux_borrow_records_active", ErrDuplicateBorrow},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: "23505", ConstraintName: tc.constraint}
			if got := constraintError(pgErr); got != tc.want {
				t.Fatalf("constraintError = %v, want %v", got, tc.want)
			}

			wrapped := classify("op", fmt.Errorf("exec: %w", pgErr))
			if !errors.Is(wrapped, tc.want) || errors.Is(wrapped, ErrStorage) {
				t.Fatalf("classify = %v, want %v", wrapped, tc.want)
			}
		})
	}

	// Other codes and unknown constraints are storage failures.
	for _, pgErr := range []*pgconn.PgError{
		{Code: "23514", ConstraintName: "books_check"},
		{Code: "23505", ConstraintName: "categories_name_key"},
	} {
		if got := constraintError(pgErr); got != nil {
			t.Fatalf("%s/%s: want nil, got %v", pgErr.Code, pgErr.ConstraintName, got)
		}
		if err := classify("op", pgErr); !errors.Is(err, ErrStorage) {
			t.Fatalf("%s/%s: want ErrStorage, got %v", pgErr.Code, pgErr.ConstraintName, err)
		}
	}
}

// pgDB connects to the database named by LIBRARY_TEST_PG_DSN and empties it.
func pgDB(t *testing.T) *Database {
	t.Helper()
	dsn := os.Getenv("LIBRARY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LIBRARY_TEST_PG_DSN not set")
	}
	db, err := Open(DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.db.Exec(`TRUNCATE borrow_records, book_categories, books, categories, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func TestPostgresLedger(t *testing.T) {
	t.Run("two copies", func(t *testing.T) { twoCopyScenario(t, pgDB(t)) })
	t.Run("concurrent borrow", func(t *testing.T) { raceBorrows(t, pgDB(t)) })
	t.Run("concurrent return", func(t *testing.T) { raceReturns(t, pgDB(t)) })

	t.Run("constraints", func(t *testing.T) {
		db := pgDB(t)
		ctx := context.Background()
		book := addBook(t, db, "B1", 2)
		alice := addUser(t, db, "alice", false)
		if _, err := db.BorrowBook(ctx, alice.ID, book.ID, t0); err != nil {
			t.Fatalf("borrow: %v", err)
		}

		err := db.withTx(ctx, "raw insert", func(tx *sqlx.Tx) error {
			_, err := db.insertID(ctx, tx, "borrow_records", goqu.Record{
				"user_id": alice.ID, "book_id": book.ID, "borrow_time": t0, "due_time": t0,
			})
			return err
		})
		if !errors.Is(err, ErrDuplicateBorrow) {
			t.Fatalf("want ErrDuplicateBorrow from index, got %v", err)
		}

		dup := &User{Username: "alice", Email: "other@example.com", PasswordHash: "x", CreatedAt: t0}
		if err := db.AddUser(ctx, dup); !errors.Is(err, ErrDuplicateUsername) {
			t.Fatalf("want ErrDuplicateUsername, got %v", err)
		}

		first, err := db.UpsertCategory(ctx, "Fiction")
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		again, err := db.UpsertCategory(ctx, "Fiction")
		if err != nil || again.ID != first.ID {
			t.Fatalf("upsert of an existing name should return it: %v, %v", again, err)
		}
	})
}
