package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bspoke/health/internal/platform/db"
)

// =========== Payment Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const paymentSelect = `
	SELECT p.id, p.appointment_id, p.amount::float8, p.status, p.payment_method, p.transaction_id,
		p.refund_amount::float8, p.refund_reason, p.created_at, p.updated_at,
		a.booking_number, a.status, to_char(s.date, 'YYYY-MM-DD'), s.start_time, s.end_time,
		pt.id, pu.name, pu.email, pu.id, d.id, du.name, du.email, du.id, d.speciality
	FROM payments p
	JOIN appointments a ON a.id = p.appointment_id
	JOIN time_slots s ON s.id = a.time_slot_id
	JOIN patients pt ON pt.id = a.patient_id
	JOIN users pu ON pu.id = pt.user_id
	JOIN doctors d ON d.id = a.doctor_id
	JOIN users du ON du.id = d.user_id`

func scanPayment(row pgx.Row) (*Payment, error) {
	p := Payment{Appointment: &AppointmentInfo{}}
	a := p.Appointment
	err := row.Scan(&p.ID, &p.AppointmentID, &p.Amount, &p.Status, &p.PaymentMethod, &p.TransactionID,
		&p.RefundAmount, &p.RefundReason, &p.CreatedAt, &p.UpdatedAt,
		&a.BookingNumber, &a.Status, &a.Date, &a.StartTime, &a.EndTime,
		&a.PatientID, &a.PatientName, &a.PatientEmail, &a.PatientUserID,
		&a.DoctorID, &a.DoctorName, &a.DoctorEmail, &a.DoctorUserID, &a.Speciality)
	if err != nil {
		return nil, err
	}
	a.ID = p.AppointmentID
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = StatusPending
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payments (id, appointment_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.AppointmentID, p.Amount, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, paymentSelect+` WHERE p.id = $1`, id))
	return p, db.NotFound(err)
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID, method, transactionID string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET status = 'completed', payment_method = $2, transaction_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, method, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Refund(ctx context.Context, id uuid.UUID, amount float64, reason string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET status = 'refunded', refund_amount = $2, refund_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'completed'`, id, amount, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkRefundPending(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET status = 'refund_pending', updated_at = NOW()
		WHERE appointment_id = $1 AND status = 'completed'`, appointmentID)
	return err
}

func whereClause(f Filter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.From != nil {
		add("p.created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("p.created_at <= $%d", *f.To)
	}
	if f.Status != "" {
		add("p.status = $%d", f.Status)
	}
	if f.Method != "" {
		add("p.payment_method = $%d", f.Method)
	}
	if f.MinAmount != nil {
		add("p.amount >= $%d", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("p.amount <= $%d", *f.MaxAmount)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Payment, int, error) {
	conn := db.Conn(ctx, r.pool)
	where, args := whereClause(f)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM payments p`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = sortColumns["created_at"]
	}
	order := "DESC"
	if f.SortOrder == "asc" {
		order = "ASC"
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, paymentSelect+where+fmt.Sprintf(`
		ORDER BY %s %s, p.id
		LIMIT $%d OFFSET $%d`, col, order, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Summary(ctx context.Context, f Filter) (*Summary, error) {
	where, args := whereClause(f)
	var s Summary
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(p.amount), 0)::float8, COALESCE(SUM(p.refund_amount), 0)::float8, COUNT(*)
		FROM payments p`+where, args...).Scan(&s.TotalAmount, &s.TotalRefunds, &s.Count)
	if err != nil {
		return nil, fmt.Errorf("payment summary: %w", err)
	}
	s.NetRevenue = s.TotalAmount - s.TotalRefunds
	return &s, nil
}

func (r *repoPG) distinct(ctx context.Context, col string) ([]string, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT DISTINCT `+col+` FROM payments WHERE `+col+` IS NOT NULL AND `+col+` <> '' ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", col, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repoPG) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	methods, err := r.distinct(ctx, "payment_method")
	if err != nil {
		return nil, err
	}
	statuses, err := r.distinct(ctx, "status")
	if err != nil {
		return nil, err
	}
	return &FilterOptions{PaymentMethods: methods, Statuses: statuses}, nil
}

func (r *repoPG) ReportRows(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT p.created_at, p.amount::float8, COALESCE(p.refund_amount, 0)::float8, COALESCE(d.speciality, '')
		FROM payments p
		LEFT JOIN appointments a ON a.id = p.appointment_id
		LEFT JOIN doctors d ON d.id = a.doctor_id
		WHERE p.created_at >= $1 AND p.created_at <= $2
		ORDER BY p.created_at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("report rows: %w", err)
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var rr ReportRow
		if err := rows.Scan(&rr.CreatedAt, &rr.Amount, &rr.RefundAmount, &rr.Speciality); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}
