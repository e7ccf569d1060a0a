package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bspoke/health/internal/platform/db"
)

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const doctorCols = `d.id, d.user_id, d.nmc_number, d.speciality, d.educational_qualification,
	d.cv_url, d.status, d.consultation_fee, d.follow_up_fee, d.created_at, d.updated_at,
	u.name, u.email, u.phone, u.kyc_status`

const doctorFrom = ` FROM doctors d JOIN users u ON u.id = d.user_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.NMCNumber, &d.Speciality, &d.EducationalQualification,
		&d.CVURL, &d.Status, &d.ConsultationFee, &d.FollowUpFee, &d.CreatedAt, &d.UpdatedAt,
		&d.Name, &d.Email, &d.Phone, &d.KYCStatus)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DoctorActive
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, nmc_number, speciality, educational_qualification, cv_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.NMCNumber, d.Speciality, d.EducationalQualification, d.CVURL, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+doctorFrom+` WHERE d.id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+doctorFrom+` WHERE d.user_id = $1`, userID))
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Speciality != "" {
		add("d.speciality ILIKE $%d", f.Speciality)
	}
	if f.Status != "" {
		add("d.status = $%d", f.Status)
	}
	if f.Bookable {
		clauses = append(clauses, "d.status = 'active'", "u.kyc_status = 'approved'")
	}
	if f.Search != "" {
		add("(u.name ILIKE $%[1]d OR u.email ILIKE $%[1]d)", "%"+f.Search+"%")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*)`+doctorFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, `SELECT `+doctorCols+doctorFrom+where+
		fmt.Sprintf(` ORDER BY u.name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *doctorRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE doctors SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *doctorRepoPG) UpdateFees(ctx context.Context, id uuid.UUID, consultation, followUp float64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE doctors SET consultation_fee = $2, follow_up_fee = $3, updated_at = NOW()
		WHERE id = $1`, id, consultation, followUp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `p.id, p.user_id, p.date_of_birth, p.gender, p.blood_group, p.created_at,
	p.updated_at, u.name, u.email, u.phone, u.address, u.kyc_status`

const patientFrom = ` FROM patients p JOIN users u ON u.id = p.user_id`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.DateOfBirth, &p.Gender, &p.BloodGroup, &p.CreatedAt,
		&p.UpdatedAt, &p.Name, &p.Email, &p.Phone, &p.Address, &p.KYCStatus)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, user_id, date_of_birth, gender, blood_group)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.DateOfBirth, p.Gender, p.BloodGroup,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+patientFrom+` WHERE p.id = $1`, id))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+patientFrom+` WHERE p.user_id = $1`, userID))
}

func (r *patientRepoPG) List(ctx context.Context, f PatientFilter) ([]*Patient, int, error) {
	where, args := "", []interface{}{}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = ` WHERE (u.name ILIKE $1 OR u.email ILIKE $1)`
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*)`+patientFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, `SELECT `+patientCols+patientFrom+where+
		fmt.Sprintf(` ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `
		UPDATE users SET name = $2, phone = $3, address = $4, updated_at = NOW()
		WHERE id = $1`, p.UserID, p.Name, p.Phone, p.Address); err != nil {
		return fmt.Errorf("update patient account: %w", err)
	}
	tag, err := conn.Exec(ctx, `
		UPDATE patients SET date_of_birth = $2, gender = $3, blood_group = $4, updated_at = NOW()
		WHERE id = $1`, p.ID, p.DateOfBirth, p.Gender, p.BloodGroup)
	if err != nil {
		return fmt.Errorf("update patient profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM users WHERE id = (SELECT user_id FROM patients WHERE id = $1)`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
