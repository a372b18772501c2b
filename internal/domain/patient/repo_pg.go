package patient

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicportal/portal/internal/platform/db"
)

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) Repository { return &profileRepoPG{pool: pool} }

const profileCols = `user_id, first_name, last_name, age, gender, email, phone, address, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Age, &p.Gender,
		&p.Email, &p.Phone, &p.Address, &p.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepoPG) Get(ctx context.Context, userID string) (*Profile, error) {
	return scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+profileCols+` FROM patient_profiles WHERE user_id = $1`, userID))
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *Profile) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_profiles (user_id, first_name, last_name, age, gender, email, phone, address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			age = EXCLUDED.age, gender = EXCLUDED.gender, email = EXCLUDED.email,
			phone = EXCLUDED.phone, address = EXCLUDED.address, updated_at = NOW()
		RETURNING updated_at`,
		p.UserID, p.FirstName, p.LastName, p.Age, p.Gender, p.Email, p.Phone, p.Address)
	err := row.Scan(&p.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrUnregistered
	}
	if err != nil {
		return fmt.Errorf("upsert patient profile: %w", err)
	}
	return nil
}

func (r *profileRepoPG) List(ctx context.Context, search string, limit, offset int) ([]*Profile, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := ""
	args := []interface{}{}
	if search != "" {
		where = ` WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient_profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patient profiles: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM patient_profiles%s ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`,
		profileCols, where, len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patient profiles: %w", err)
	}
	defer rows.Close()

	var items []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
