package scheduling

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

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pool: pool}
}

const slotCols = `id, doctor_id, to_char(date, 'YYYY-MM-DD'), start_time, end_time, is_booked, created_at`

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	if err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.IsBooked, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *slotRepoPG) CreateMany(ctx context.Context, slots []*TimeSlot) error {
	conn := db.Conn(ctx, r.pool)
	now := time.Now().UTC()
	for _, s := range slots {
		s.ID = uuid.New()
		s.CreatedAt = now
		if _, err := conn.Exec(ctx, `
			INSERT INTO time_slots (id, doctor_id, date, start_time, end_time, is_booked, created_at)
			VALUES ($1, $2, $3::date, $4, $5, FALSE, $6)`,
			s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, s.CreatedAt); err != nil {
			return fmt.Errorf("insert slot %s %s: %w", s.Date, s.StartTime, err)
		}
	}
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	s, err := scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM time_slots WHERE id = $1`, id))
	return s, db.NotFound(err)
}

func (r *slotRepoPG) querySlots(ctx context.Context, sql string, args ...interface{}) ([]*TimeSlot, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var items []*TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) ListForDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*TimeSlot, error) {
	return r.querySlots(ctx, `SELECT `+slotCols+` FROM time_slots
		WHERE doctor_id = $1 AND date = $2::date ORDER BY start_time`, doctorID, date)
}

func (r *slotRepoPG) ListFrom(ctx context.Context, doctorID uuid.UUID, today, nowHHMM string, freeOnly bool) ([]*TimeSlot, error) {
	q := `SELECT ` + slotCols + ` FROM time_slots
		WHERE doctor_id = $1 AND (date > $2::date OR (date = $2::date AND start_time > $3))`
	if freeOnly {
		q += ` AND is_booked = FALSE`
	}
	return r.querySlots(ctx, q+` ORDER BY date, start_time`, doctorID, today, nowHHMM)
}

func (r *slotRepoPG) Claim(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE time_slots SET is_booked = TRUE WHERE id = $1 AND is_booked = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *slotRepoPG) Release(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE time_slots SET is_booked = FALSE WHERE id = $1`, id)
	return err
}

func (r *slotRepoPG) CountUpcoming(ctx context.Context, doctorID uuid.UUID, today string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM time_slots
		WHERE doctor_id = $1 AND is_booked = FALSE AND date >= $2::date`, doctorID, today).Scan(&n)
	return n, err
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const appointmentSelect = `
	SELECT a.id, a.booking_number, a.patient_id, a.doctor_id, a.time_slot_id, a.status,
		a.reason, a.cancel_reason, a.notes IS NOT NULL, a.created_at, a.updated_at,
		to_char(s.date, 'YYYY-MM-DD'), s.start_time, s.end_time,
		du.name, d.speciality, pu.name, d.user_id, p.user_id,
		pay.id, pay.amount, pay.status
	FROM appointments a
	JOIN time_slots s ON s.id = a.time_slot_id
	JOIN doctors d ON d.id = a.doctor_id
	JOIN users du ON du.id = d.user_id
	JOIN patients p ON p.id = a.patient_id
	JOIN users pu ON pu.id = p.user_id
	LEFT JOIN payments pay ON pay.appointment_id = a.id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a         Appointment
		payID     *uuid.UUID
		payAmount *float64
		payStatus *string
	)
	err := row.Scan(&a.ID, &a.BookingNumber, &a.PatientID, &a.DoctorID, &a.TimeSlotID, &a.Status,
		&a.Reason, &a.CancelReason, &a.HasNotes, &a.CreatedAt, &a.UpdatedAt,
		&a.Date, &a.StartTime, &a.EndTime,
		&a.DoctorName, &a.Speciality, &a.PatientName, &a.DoctorUserID, &a.PatientUserID,
		&payID, &payAmount, &payStatus)
	if err != nil {
		return nil, err
	}
	if payID != nil {
		a.Payment = &PaymentRef{ID: *payID}
		if payAmount != nil {
			a.Payment.Amount = *payAmount
		}
		if payStatus != nil {
			a.Payment.Status = *payStatus
		}
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointments (id, booking_number, patient_id, doctor_id, time_slot_id, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.BookingNumber, a.PatientID, a.DoctorID, a.TimeSlotID, a.Status, a.Reason, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, appointmentSelect+` WHERE a.id = $1`, id))
	return a, db.NotFound(err)
}

func (r *appointmentRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
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

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("a.doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != "" {
		add("a.status = $%d", f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	items, err := r.query(ctx, appointmentSelect+where+fmt.Sprintf(`
		ORDER BY s.date DESC, s.start_time DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) Schedule(ctx context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error) {
	return r.query(ctx, appointmentSelect+`
		WHERE a.doctor_id = $1 AND s.date = $2::date AND a.status <> 'cancelled'
		ORDER BY s.start_time`, doctorID, date)
}

func (r *appointmentRepoPG) Transition(ctx context.Context, id uuid.UUID, from, to string, cancelReason *string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET status = $3, cancel_reason = COALESCE($4, cancel_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to, cancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) SetNotes(ctx context.Context, id uuid.UUID, sealed string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE appointments SET notes = $2, updated_at = NOW() WHERE id = $1`, id, sealed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) Notes(ctx context.Context, id uuid.UUID) (string, error) {
	var notes *string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT notes FROM appointments WHERE id = $1`, id).Scan(&notes)
	if err != nil {
		return "", db.NotFound(err)
	}
	if notes == nil {
		return "", nil
	}
	return *notes, nil
}

func (r *appointmentRepoPG) Stats(ctx context.Context, doctorID uuid.UUID) (*Stats, error) {
	conn := db.Conn(ctx, r.pool)
	var st Stats
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'booked'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(DISTINCT patient_id)
		FROM appointments WHERE doctor_id = $1`, doctorID).
		Scan(&st.TotalAppointments, &st.BookedAppointments, &st.CompletedAppointments,
			&st.CancelledAppointments, &st.TotalPatients)
	if err != nil {
		return nil, fmt.Errorf("appointment stats: %w", err)
	}
	err = conn.QueryRow(ctx, `
		SELECT COALESCE(SUM(p.amount), 0)::float8
		FROM payments p JOIN appointments a ON a.id = p.appointment_id
		WHERE a.doctor_id = $1 AND p.status = 'completed'`, doctorID).Scan(&st.TotalEarnings)
	if err != nil {
		return nil, fmt.Errorf("earnings: %w", err)
	}
	return &st, nil
}
