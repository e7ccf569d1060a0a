package kyc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bspoke/health/internal/platform/db"
)

// =========== KYC Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const kycCols = `k.id, k.user_id, k.full_name, k.date_of_birth, k.citizenship_number,
	k.citizenship_front_url, k.citizenship_back_url, k.status, k.rejection_reason,
	k.reviewed_by, k.submitted_at, k.reviewed_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.UserID, &r.FullName, &r.DateOfBirth, &r.CitizenshipNumber,
		&r.CitizenshipFrontURL, &r.CitizenshipBackURL, &r.Status, &r.RejectionReason,
		&r.ReviewedBy, &r.SubmittedAt, &r.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO kyc (id, user_id, full_name, date_of_birth, citizenship_number,
			citizenship_front_url, citizenship_back_url, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UserID, rec.FullName, rec.DateOfBirth, rec.CitizenshipNumber,
		rec.CitizenshipFrontURL, rec.CitizenshipBackURL, rec.Status, rec.SubmittedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+kycCols+` FROM kyc k WHERE k.id = $1`, id))
	return rec, db.NotFound(err)
}

func (r *repoPG) Latest(ctx context.Context, userID uuid.UUID) (*Record, error) {
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+kycCols+` FROM kyc k WHERE k.user_id = $1 ORDER BY k.submitted_at DESC LIMIT 1`, userID))
	return rec, db.NotFound(err)
}

func (r *repoPG) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Record, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM kyc WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count kyc: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT `+kycCols+`, u.name, u.email, u.role
		FROM kyc k JOIN users u ON u.id = k.user_id
		WHERE k.status = $1
		ORDER BY k.submitted_at ASC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list kyc: %w", err)
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		var (
			rec Record
			sub Submitter
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.FullName, &rec.DateOfBirth, &rec.CitizenshipNumber,
			&rec.CitizenshipFrontURL, &rec.CitizenshipBackURL, &rec.Status, &rec.RejectionReason,
			&rec.ReviewedBy, &rec.SubmittedAt, &rec.ReviewedAt,
			&sub.Name, &sub.Email, &sub.Role); err != nil {
			return nil, 0, err
		}
		rec.Submitter = &sub
		items = append(items, &rec)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Review(ctx context.Context, id uuid.UUID, status string, reason *string, reviewer uuid.UUID, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE kyc SET status = $2, rejection_reason = $3, reviewed_by = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'`,
		id, status, reason, reviewer, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) SetUserStatus(ctx context.Context, userID uuid.UUID, status string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE users SET kyc_status = $2, updated_at = NOW() WHERE id = $1`, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
