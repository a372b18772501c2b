package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicportal/portal/internal/platform/db"
)

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) Repository { return &messageRepoPG{pool: pool} }

const msgCols = `id, patient_uid, sender_role, sender_name, message, timestamp`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.PatientUID, &m.SenderRole, &m.SenderName, &m.Message, &m.Timestamp)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO chat_messages (id, patient_uid, sender_role, sender_name, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp`,
		m.ID, m.PatientUID, m.SenderRole, m.SenderName, m.Message).Scan(&m.Timestamp)
	if db.IsForeignKeyViolation(err) {
		return ErrUnregistered
	}
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+msgCols+` FROM chat_messages WHERE id = $1`, id))
}

func (r *messageRepoPG) ListByPatient(ctx context.Context, patientUID string, limit int) ([]*Message, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+msgCols+` FROM chat_messages
		WHERE patient_uid = $1 ORDER BY timestamp DESC LIMIT $2`, patientUID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return collectMessages(rows)
}

func (r *messageRepoPG) ListConversations(ctx context.Context, limit, offset int) ([]*Message, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(DISTINCT patient_uid) FROM chat_messages`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	rows, err := conn.Query(ctx, `
		SELECT `+msgCols+` FROM (
			SELECT DISTINCT ON (patient_uid) `+msgCols+` FROM chat_messages
			ORDER BY patient_uid, timestamp DESC
		) latest
		ORDER BY timestamp DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	items, err := collectMessages(rows)
	return items, total, err
}
