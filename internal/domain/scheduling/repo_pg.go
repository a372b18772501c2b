package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicportal/portal/internal/platform/db"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, patient_name, service, sub_service, date, time,
	status, cancellation_status, cancellation_reason, payment_status, payment_session_id,
	amount, refund_amount, refund_id, refund_date, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.Service, &a.SubService, &a.Date, &a.Time,
		&a.Status, &a.CancellationStatus, &a.CancellationReason, &a.PaymentStatus, &a.PaymentSessionID,
		&a.Amount, &a.RefundAmount, &a.RefundID, &a.RefundDate, &a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, service, sub_service, date, time,
			status, cancellation_status, payment_status, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PatientName, a.Service, a.SubService, a.Date, a.Time,
		a.Status, a.CancellationStatus, a.PaymentStatus, a.Amount,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrSlotUnavailable
	}
	if db.IsForeignKeyViolation(err) {
		return ErrUnregistered
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetByPaymentSession(ctx context.Context, sessionID string) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE payment_session_id = $1 LIMIT 1`, sessionID))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET date=$2, time=$3, status=$4, cancellation_status=$5,
			cancellation_reason=$6, payment_status=$7, payment_session_id=$8, amount=$9,
			refund_amount=$10, refund_id=$11, refund_date=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Date, a.Time, a.Status, a.CancellationStatus,
		a.CancellationReason, a.PaymentStatus, a.PaymentSessionID, a.Amount,
		a.RefundAmount, a.RefundID, a.RefundDate,
	).Scan(&a.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrSlotUnavailable
	case err != nil:
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+apptCols+` FROM appointments WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	return items, total, err
}

func (r *appointmentRepoPG) ListHoldingSlots(ctx context.Context, date string) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE date = $1 AND status NOT IN ('Decline', 'declined') AND cancellation_status <> 'Approved'`, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointments WHERE 1=1`
	var args []interface{}
	idx := 1

	filters := []struct{ param, clause string }{
		{"patient", "patient_id = $%d"},
		{"status", "status = $%d"},
		{"cancellation_status", "cancellation_status = $%d"},
		{"payment_status", "payment_status = $%d"},
		{"date", "date = $%d"},
		{"service", "service = $%d"},
	}
	for _, f := range filters {
		if p, ok := params[f.param]; ok {
			clause := fmt.Sprintf(" AND "+f.clause, idx)
			query += clause
			countQuery += clause
			args = append(args, p)
			idx++
		}
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	return items, total, err
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) GetDefaults(ctx context.Context) (*ScheduleDefaults, error) {
	var d ScheduleDefaults
	var closed []int32
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT slots, closed_days, updated_at FROM schedule_defaults WHERE id = 1`,
	).Scan(&d.Slots, &closed, &d.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule defaults: %w", err)
	}
	for _, day := range closed {
		d.ClosedDays = append(d.ClosedDays, int(day))
	}
	return &d, nil
}

func (r *scheduleRepoPG) SaveDefaults(ctx context.Context, d *ScheduleDefaults) error {
	if d.Slots == nil {
		d.Slots = []string{}
	}
	closed := make([]int32, len(d.ClosedDays))
	for i, day := range d.ClosedDays {
		closed[i] = int32(day)
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedule_defaults (id, slots, closed_days) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET slots = EXCLUDED.slots, closed_days = EXCLUDED.closed_days, updated_at = NOW()
		RETURNING updated_at`, d.Slots, closed).Scan(&d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save schedule defaults: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) GetDaily(ctx context.Context, date string) (*DailySchedule, error) {
	d := DailySchedule{Date: date}
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT slots, closed, updated_at FROM daily_schedules WHERE date = $1`, date,
	).Scan(&d.Slots, &d.Closed, &d.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load daily schedule: %w", err)
	}
	return &d, nil
}

func (r *scheduleRepoPG) SaveDaily(ctx context.Context, d *DailySchedule) error {
	if d.Slots == nil {
		d.Slots = []string{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO daily_schedules (date, slots, closed) VALUES ($1, $2, $3)
		ON CONFLICT (date) DO UPDATE SET slots = EXCLUDED.slots, closed = EXCLUDED.closed, updated_at = NOW()
		RETURNING updated_at`, d.Date, d.Slots, d.Closed).Scan(&d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save daily schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) DeleteDaily(ctx context.Context, date string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM daily_schedules WHERE date = $1`, date)
	return err
}
