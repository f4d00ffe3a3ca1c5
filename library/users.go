package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

var userColumns = []any{"id", "username", "email", "password_hash", "is_admin", "created_at"}

// AddUser stores a new account and sets u.ID.
func (d *Database) AddUser(ctx context.Context, u *User) error {
	return d.withTx(ctx, "add user", func(tx *sqlx.Tx) error {
		for _, check := range []struct {
			col, val string
			err      error
		}{
			{"username", u.Username, ErrDuplicateUsername},
			{"email", u.Email, ErrDuplicateEmail},
		} {
			var n int
			if err := getx(ctx, tx, &n, d.from("users").Select(goqu.COUNT("*")).Where(goqu.C(check.col).Eq(check.val))); err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%q: %w", check.val, check.err)
			}
		}

		id, err := d.insertID(ctx, tx, "users", goqu.Record{
			"username":      u.Username,
			"email":         u.Email,
			"password_hash": u.PasswordHash,
			"is_admin":      u.IsAdmin,
			"created_at":    u.CreatedAt,
		})
		if err != nil {
			return err
		}
		u.ID = id
		return nil
	})
}

// GetUser fetches a single user.
func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	return d.getUserWhere(ctx, "id", id)
}

// GetUserByUsername fetches a user by login name.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return d.getUserWhere(ctx, "username", username)
}

func (d *Database) getUserWhere(ctx context.Context, col string, val any) (*User, error) {
	var u User
	if err := getx(ctx, d.db, &u, d.from("users").Select(userColumns...).Where(goqu.C(col).Eq(val))); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %v: %w", val, ErrNotFound)
		}
		return nil, storageError("get user", err)
	}
	return &u, nil
}

// GetAllUsers returns all users ordered by username.
func (d *Database) GetAllUsers(ctx context.Context) ([]*User, error) {
	users := []*User{}
	if err := selectx(ctx, d.db, &users, d.from("users").Select(userColumns...).Order(goqu.C("username").Asc())); err != nil {
		return nil, storageError("list users", err)
	}
	return users, nil
}

// SetPasswordHash replaces a user's stored hash.
func (d *Database) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return d.withTx(ctx, "set password", func(tx *sqlx.Tx) error {
		res, err := execx(ctx, tx, d.update("users").Set(goqu.Record{"password_hash": hash}).Where(goqu.C("id").Eq(id)))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil
	})
}
