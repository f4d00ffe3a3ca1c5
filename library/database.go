package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Supported values for the driver argument of Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Database owns the connection pool and every SQL statement the library runs.
// Each mutating method executes inside exactly one transaction.
type Database struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects with the given driver. For SQLite dsn is a file path, for Postgres a
// connection URL.
func Open(driver, dsn string) (*Database, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sqlx.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	d := &Database{db: db, driver: driver, dialect: goqu.Dialect(driver)}
	if err := d.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(dbPath string) (*sqlx.DB, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// _txlock=immediate makes every transaction take the write lock up front, so a
	// read-then-decrement of a counter cannot interleave with another writer.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Close closes the pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Driver returns the driver the database was opened with.
func (d *Database) Driver() string { return d.driver }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		description TEXT NOT NULL,
		publisher TEXT NOT NULL DEFAULT '',
		publication_date DATE,
		language TEXT NOT NULL DEFAULT '',
		pages INTEGER,
		isbn TEXT UNIQUE,
		total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
		available_copies INTEGER NOT NULL,
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	);`,
	`CREATE TABLE IF NOT EXISTS book_categories (
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		category_id INTEGER NOT NULL REFERENCES categories(id),
		PRIMARY KEY (book_id, category_id)
	);`,
	`CREATE TABLE IF NOT EXISTS borrow_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		book_id INTEGER NOT NULL REFERENCES books(id),
		borrow_time DATETIME NOT NULL,
		due_time DATETIME NOT NULL,
		return_time DATETIME
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_borrow_records_active
		ON borrow_records(user_id, book_id) WHERE return_time IS NULL;`,
	`CREATE INDEX IF NOT EXISTS ix_borrow_records_book ON borrow_records(book_id);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL CONSTRAINT users_username_key UNIQUE,
		email TEXT NOT NULL CONSTRAINT users_email_key UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS categories (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL CONSTRAINT categories_name_key UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS books (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL CONSTRAINT books_external_id_key UNIQUE,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		description TEXT NOT NULL,
		publisher TEXT NOT NULL DEFAULT '',
		publication_date DATE,
		language TEXT NOT NULL DEFAULT '',
		pages INTEGER,
		isbn TEXT CONSTRAINT books_isbn_key UNIQUE,
		total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
		available_copies INTEGER NOT NULL,
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	);`,
	`CREATE TABLE IF NOT EXISTS book_categories (
		book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		category_id BIGINT NOT NULL REFERENCES categories(id),
		PRIMARY KEY (book_id, category_id)
	);`,
	`CREATE TABLE IF NOT EXISTS borrow_records (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		book_id BIGINT NOT NULL REFERENCES books(id),
		borrow_time TIMESTAMPTZ NOT NULL,
		due_time TIMESTAMPTZ NOT NULL,
		return_time TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_borrow_records_active
		ON borrow_records(user_id, book_id) WHERE return_time IS NULL;`,
	`CREATE INDEX IF NOT EXISTS ix_borrow_records_book ON borrow_records(book_id);`,
}

func (d *Database) applyMigrations() error {
	if d.driver == DriverSQLite {
		// WAL improves write concurrency.
		if _, err := d.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = d.db.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := sqliteSchema
	if d.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	upsert := d.db.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`)
	if _, err := tx.Exec(upsert, fmt.Sprint(schemaVersion)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Transactions and statement helpers
// ---------------------------------------------------------------------------

// withTx runs fn in a transaction. Any error rolls the whole transaction back; errors that
// are not already classified surface as ErrStorage.
func (d *Database) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

func classify(op string, err error) error {
	if isDomainError(err) {
		return err
	}
	if derr := constraintError(err); derr != nil {
		return fmt.Errorf("%s: %w", op, derr)
	}
	return storageError(op, err)
}

// constraintError maps a unique-constraint violation to the matching domain error, or
// returns nil when err is not one.
func constraintError(err error) error {
	var constraint string

	var se sqlite3.Error
	var pe *pgconn.PgError
	switch {
	case errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique:
		// "UNIQUE constraint failed: books.isbn"
		constraint = se.Error()
	case errors.As(err, &pe) && pe.Code == "23505":
		constraint = pe.ConstraintName
	default:
		return nil
	}

	switch {
	case strings.Contains(constraint, "books.external_id"), constraint == "books_external_id_key":
		return ErrDuplicateIdentifier
	case strings.Contains(constraint, "books.isbn"), constraint == "books_isbn_key":
		return ErrDuplicateISBN
	case strings.Contains(constraint, "users.username"), constraint == "users_username_key":
		return ErrDuplicateUsername
	case strings.Contains(constraint, "users.email"), constraint == "users_email_key":
		return ErrDuplicateEmail
	case strings.Contains(constraint, "borrow_records.user_id"), constraint == "ux_borrow_records_active":
		return ErrDuplicateBorrow
	}
	return nil
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func getx(ctx context.Context, q sqlx.QueryerContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func selectx(ctx context.Context, q sqlx.QueryerContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func execx(ctx context.Context, e sqlx.ExecerContext, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return e.ExecContext(ctx, query, args...)
}

func (d *Database) from(table any) *goqu.SelectDataset {
	return d.dialect.From(table).Prepared(true)
}

func (d *Database) insert(table any) *goqu.InsertDataset {
	return d.dialect.Insert(table).Prepared(true)
}

func (d *Database) update(table any) *goqu.UpdateDataset {
	return d.dialect.Update(table).Prepared(true)
}

func (d *Database) delete(table any) *goqu.DeleteDataset {
	return d.dialect.Delete(table).Prepared(true)
}

// insertID inserts one row and returns its generated id.
func (d *Database) insertID(ctx context.Context, tx *sqlx.Tx, table string, rec goqu.Record) (int64, error) {
	ds := d.insertQuery(table, rec)
	if d.driver == DriverPostgres {
		var id int64
		if err := getx(ctx, tx, &id, ds); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := execx(ctx, tx, ds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// insertQuery builds a single-row insert. Postgres has no LastInsertId, so it returns the id.
func (d *Database) insertQuery(table string, rec goqu.Record) *goqu.InsertDataset {
	ds := d.insert(table).Rows(rec)
	if d.driver == DriverPostgres {
		ds = ds.Returning("id")
	}
	return ds
}

// lockBook selects a book row for update. On SQLite the transaction already holds the write
// lock; on Postgres the row lock keeps concurrent counter updates exclusive.
func (d *Database) lockBook(ctx context.Context, tx *sqlx.Tx, bookID int64) (*Book, error) {
	var b Book
	if err := getx(ctx, tx, &b, d.lockBookQuery(bookID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %d: %w", bookID, ErrNotFound)
		}
		return nil, err
	}
	return &b, nil
}

func (d *Database) lockBookQuery(bookID int64) *goqu.SelectDataset {
	ds := d.from("books").Select(bookColumns...).Where(goqu.C("id").Eq(bookID))
	if d.driver == DriverPostgres {
		ds = ds.ForUpdate(exp.Wait)
	}
	return ds
}
