package repository

import (
	"context"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

type UsersRepository interface {
	ListByRole(ctx context.Context, role string) ([]model.User, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, u model.User) error
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

var _ UsersRepository = (*UsersRepositoryImpl)(nil)

func (r *UsersRepositoryImpl) ListByRole(ctx context.Context, role string) ([]model.User, error) {
	const q = `
		SELECT id, name, role, status, created_at, updated_at
		  FROM users
		 WHERE role = ? AND status = 'active'
		 ORDER BY id
	`
	var rows []model.User
	if err := r.db.SelectContext(ctx, &rows, q, role); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *UsersRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, u model.User) error {
	if tx == nil {
		return ErrTxRequired
	}
	const q = `
		INSERT INTO users (id, name, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name), role = VALUES(role), status = VALUES(status), updated_at = VALUES(updated_at)
	`
	_, err := tx.ExecContext(ctx, q, u.ID, u.Name, u.Role, u.Status)
	return err
}
