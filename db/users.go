package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"petsoft/models"
)

const userColumns = "id, email, hashed_password, has_access, created_at, updated_at"

func (d *DB) CreateUser(ctx context.Context, email, hashedPassword string) (models.User, error) {
	ts := now()
	u := models.User{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}

	_, err := d.x.ExecContext(ctx, d.rebind(
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?)"),
		u.ID, u.Email, u.HashedPassword, u.HasAccess, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return models.User{}, fmt.Errorf("create user %s: %w", email, ErrDuplicate)
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (d *DB) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return d.getUser(ctx, "email", email)
}

func (d *DB) GetUserByID(ctx context.Context, id string) (models.User, error) {
	return d.getUser(ctx, "id", id)
}

func (d *DB) getUser(ctx context.Context, column, value string) (models.User, error) {
	var u models.User
	err := d.x.GetContext(ctx, &u, d.rebind(
		"SELECT "+userColumns+" FROM users WHERE "+column+" = ?"), value)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user by %s: %w", column, err)
	}
	return u, nil
}

// SetAccessByEmail flips the entitlement flag for the account with email.
func (d *DB) SetAccessByEmail(ctx context.Context, email string, hasAccess bool) error {
	res, err := d.x.ExecContext(ctx, d.rebind(
		"UPDATE users SET has_access = ?, updated_at = ? WHERE email = ?"),
		hasAccess, now(), email)
	if err != nil {
		return fmt.Errorf("set access: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set access: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
