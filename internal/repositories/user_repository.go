package repositories

import (
	"context"
	"strings"

	intdb "sacco/internal/db"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
)

func (r *Queries) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, password_hash, role, status, created_at
		FROM users
		WHERE email = ?
		LIMIT 1`, strings.ToLower(strings.TrimSpace(email))).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Phone,
		&u.PasswordHash,
		&u.Role,
		&u.Status,
		&u.CreatedAt,
	)
	if err != nil {
		return models.User{}, notFound("user", err)
	}
	return u, nil
}

func (r *Queries) InsertUser(ctx context.Context, u *models.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (name, email, phone, password_hash, role, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.Status, u.CreatedAt,
	)
	if err != nil {
		if intdb.IsDuplicateKey(err) {
			return domain.ConflictError{Resource: "user", Msg: "email already registered", Err: err}
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}
