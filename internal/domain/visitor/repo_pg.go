package visitor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicportal/portal/internal/platform/db"
)

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewVisitRepoPG(pool *pgxpool.Pool) Repository { return &visitRepoPG{pool: pool} }

func (r *visitRepoPG) Insert(ctx context.Context, v *Visit) (bool, error) {
	v.ID = uuid.New()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO page_visitors (id, visitor_id, date, page_path, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (visitor_id, date, page_path) DO NOTHING`,
		v.ID, v.VisitorID, v.Date, v.PagePath, v.UserAgent)
	if err != nil {
		return false, fmt.Errorf("insert page visit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *visitRepoPG) CountUnique(ctx context.Context) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(DISTINCT visitor_id) FROM page_visitors`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count visitors: %w", err)
	}
	return n, nil
}

func (r *visitRepoPG) CountUniqueOn(ctx context.Context, date string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(DISTINCT visitor_id) FROM page_visitors WHERE date = $1`, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count visitors on %s: %w", date, err)
	}
	return n, nil
}

func (r *visitRepoPG) DailyUnique(ctx context.Context, from, to string) ([]DailyCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), COUNT(DISTINCT visitor_id)
		FROM page_visitors
		WHERE date >= $1 AND date <= $2
		GROUP BY date ORDER BY date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("daily visitors: %w", err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var d DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
