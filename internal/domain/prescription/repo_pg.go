package prescription

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bspoke/health/internal/platform/db"
)

// =========== Prescription Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const prescriptionSelect = `
	SELECT p.id, p.appointment_id, to_char(s.date, 'YYYY-MM-DD'),
		d.id, du.name, pt.id, pu.name,
		p.diagnosis, p.doctor_notes, p.follow_up_needed, to_char(p.follow_up_date, 'YYYY-MM-DD'),
		(SELECT COUNT(*) FROM medications m WHERE m.prescription_id = p.id),
		p.created_at, p.updated_at
	FROM prescriptions p
	JOIN appointments a ON a.id = p.appointment_id
	JOIN time_slots s ON s.id = a.time_slot_id
	JOIN doctors d ON d.id = a.doctor_id
	JOIN users du ON du.id = d.user_id
	JOIN patients pt ON pt.id = a.patient_id
	JOIN users pu ON pu.id = pt.user_id`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.AppointmentID, &p.AppointmentDate,
		&p.Doctor.ID, &p.Doctor.Name, &p.Patient.ID, &p.Patient.Name,
		&p.Diagnosis, &p.DoctorNotes, &p.FollowUp.Needed, &p.FollowUp.Date,
		&p.MedicationCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Upsert(ctx context.Context, p *Prescription) (bool, error) {
	var created bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, diagnosis, doctor_notes, follow_up_needed, follow_up_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, NOW(), NOW())
		ON CONFLICT (appointment_id) DO UPDATE SET
			diagnosis = EXCLUDED.diagnosis,
			doctor_notes = EXCLUDED.doctor_notes,
			follow_up_needed = EXCLUDED.follow_up_needed,
			follow_up_date = EXCLUDED.follow_up_date,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0)`,
		uuid.New(), p.AppointmentID, p.Diagnosis, p.DoctorNotes, p.FollowUp.Needed, p.FollowUp.Date).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert prescription: %w", err)
	}
	return created, nil
}

func (r *repoPG) ReplaceMedications(ctx context.Context, prescriptionID uuid.UUID, meds []Medication) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM medications WHERE prescription_id = $1`, prescriptionID); err != nil {
		return fmt.Errorf("clear medications: %w", err)
	}
	for i := range meds {
		m := &meds[i]
		m.ID = uuid.New()
		m.PrescriptionID = prescriptionID
		if _, err := conn.Exec(ctx, `
			INSERT INTO medications (id, prescription_id, name, dosage, frequency, duration, instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.PrescriptionID, m.Name, m.Dosage, m.Frequency, m.Duration, m.Instructions); err != nil {
			return fmt.Errorf("insert medication %q: %w", m.Name, err)
		}
	}
	return nil
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	conn := db.Conn(ctx, r.pool)
	p, err := scanPrescription(conn.QueryRow(ctx, prescriptionSelect+` WHERE p.appointment_id = $1`, appointmentID))
	if err != nil {
		return nil, db.NotFound(err)
	}

	rows, err := conn.Query(ctx, `
		SELECT id, prescription_id, name, dosage, frequency, duration, COALESCE(instructions, '')
		FROM medications WHERE prescription_id = $1 ORDER BY name`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()

	p.Medications = []Medication{}
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.PrescriptionID, &m.Name, &m.Dosage, &m.Frequency, &m.Duration, &m.Instructions); err != nil {
			return nil, err
		}
		p.Medications = append(p.Medications, m)
	}
	return p, rows.Err()
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Prescription, int, error) {
	conn := db.Conn(ctx, r.pool)
	var (
		clauses []string
		args    []interface{}
	)
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		clauses = append(clauses, fmt.Sprintf("a.doctor_id = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		clauses = append(clauses, fmt.Sprintf("a.patient_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions p
		JOIN appointments a ON a.id = p.appointment_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, prescriptionSelect+where+fmt.Sprintf(`
		ORDER BY p.created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
