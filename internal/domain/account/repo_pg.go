package account

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bspoke/health/internal/platform/db"
)

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, name, email, password, role, email_verified, otp, otp_expires,
	failed_login_attempts, account_locked_until, reset_token, reset_token_expires,
	kyc_status, phone, address, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified,
		&u.OTP, &u.OTPExpires, &u.FailedLoginAttempts, &u.AccountLockedUntil,
		&u.ResetToken, &u.ResetTokenExpires, &u.KYCStatus, &u.Phone, &u.Address,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.KYCStatus == "" {
		u.KYCStatus = KYCNotSubmitted
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, name, email, password, role, email_verified, kyc_status, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.EmailVerified, u.KYCStatus,
		u.Phone, u.Address).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`,
		email, exclude).Scan(&taken)
	return taken, err
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, u *User) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET name = $2, email = $3, phone = $4, address = $5,
			email_verified = $6, updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.Name, u.Email, u.Phone, u.Address, u.EmailVerified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *userRepoPG) SetLoginFailures(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET failed_login_attempts = $2, account_locked_until = $3, updated_at = NOW()
		WHERE id = $1`, id, attempts, lockedUntil)
	return err
}

func (r *userRepoPG) SetOTP(ctx context.Context, id uuid.UUID, code string, expires time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET otp = $2, otp_expires = $3, updated_at = NOW()
		WHERE id = $1`, id, code, expires)
	return err
}

func (r *userRepoPG) ConsumeOTP(ctx context.Context, email, code string, now time.Time) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users SET otp = NULL, otp_expires = NULL, email_verified = TRUE, updated_at = NOW()
		WHERE email = $1 AND otp = $2 AND otp_expires > $3
		RETURNING `+userCols, email, code, now))
}

func (r *userRepoPG) SetResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET reset_token = $2, reset_token_expires = $3, updated_at = NOW()
		WHERE id = $1`, id, token, expires)
	return err
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET password = $2, reset_token = NULL, reset_token_expires = NULL,
			updated_at = NOW()
		WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// =========== Password History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) Append(ctx context.Context, e *HistoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO password_history (id, user_id, password)
		VALUES ($1, $2, $3)
		RETURNING created_at`, e.ID, e.UserID, e.PasswordHash).Scan(&e.CreatedAt)
}

func (r *historyRepoPG) Recent(ctx context.Context, userID uuid.UUID, n int) ([]*HistoryEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, user_id, password, created_at FROM password_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// =========== Trusted Device Repository ===========

type deviceRepoPG struct{ pool *pgxpool.Pool }

func NewDeviceRepoPG(pool *pgxpool.Pool) DeviceRepository {
	return &deviceRepoPG{pool: pool}
}

func (r *deviceRepoPG) Get(ctx context.Context, deviceID string) (*TrustedDevice, error) {
	var d TrustedDevice
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT device_id, user_id, created_at FROM trusted_devices WHERE device_id = $1`,
		deviceID).Scan(&d.DeviceID, &d.UserID, &d.CreatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &d, nil
}

func (r *deviceRepoPG) Upsert(ctx context.Context, d *TrustedDevice) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO trusted_devices (device_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING created_at`, d.DeviceID, d.UserID).Scan(&d.CreatedAt)
}

func (r *deviceRepoPG) Delete(ctx context.Context, deviceID string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM trusted_devices WHERE device_id = $1`, deviceID)
	return err
}
