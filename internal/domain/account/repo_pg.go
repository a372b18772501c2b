package account

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicportal/portal/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) Repository { return &userRepoPG{pool: pool} }

const userCols = `uid, custom_user_id, email, display_name, role, status,
	is_archived, archived, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.UID, &u.CustomUserID, &u.Email, &u.DisplayName, &u.Role, &u.Status,
		&u.IsArchived, &u.Archived, &u.CreatedAt, &u.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Upsert(ctx context.Context, u *User) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (uid, email, display_name, role, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO UPDATE SET
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
			updated_at = NOW()
		RETURNING `+userCols,
		u.UID, u.Email, u.DisplayName, u.Role, u.Status)
	stored, err := scanUser(row)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	*u = *stored
	return nil
}

func (r *userRepoPG) GetByUID(ctx context.Context, uid string) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE uid = $1`, uid))
}

func (r *userRepoPG) GetByCustomID(ctx context.Context, customID string) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE custom_user_id = $1 LIMIT 1`, customID))
}

func (r *userRepoPG) SetActive(ctx context.Context, uid string, active bool) error {
	status := StatusActive
	if !active {
		status = StatusInactive
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET is_archived = $2, archived = $2, status = $3, updated_at = NOW()
		WHERE uid = $1`, uid, !active, status)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	rows, err := conn.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	users, err := collectUsers(rows)
	return users, total, err
}

func (r *userRepoPG) ListInactive(ctx context.Context) ([]*User, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+userCols+` FROM users
		WHERE is_archived OR archived OR lower(status) = 'inactive'`)
	if err != nil {
		return nil, fmt.Errorf("list inactive users: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*User, error) {
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
