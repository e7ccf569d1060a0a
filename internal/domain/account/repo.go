package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// EmailTaken ignores the row with id exclude.
	EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error)
	UpdateProfile(ctx context.Context, u *User) error
	SetLoginFailures(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error
	SetOTP(ctx context.Context, id uuid.UUID, code string, expires time.Time) error
	// ConsumeOTP clears a matching unexpired code and marks the email
	// verified in one statement. No match yields db.ErrNotFound.
	ConsumeOTP(ctx context.Context, email, code string, now time.Time) (*User, error)
	SetResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error
	// UpdatePassword replaces the live hash and clears any reset token.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

type HistoryRepository interface {
	Append(ctx context.Context, e *HistoryEntry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, userID uuid.UUID, n int) ([]*HistoryEntry, error)
}

type DeviceRepository interface {
	Get(ctx context.Context, deviceID string) (*TrustedDevice, error)
	Upsert(ctx context.Context, d *TrustedDevice) error
	Delete(ctx context.Context, deviceID string) error
}

// ProfileStore owns the Doctor and Patient profiles attached to accounts.
type ProfileStore interface {
	CreateDoctor(ctx context.Context, userID uuid.UUID, d DoctorSignup) error
	CreatePatient(ctx context.Context, userID uuid.UUID) error
	// DoctorIDForUser returns nil when the user has no doctor profile.
	DoctorIDForUser(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error)
	RoleProfile(ctx context.Context, userID uuid.UUID, role string) (interface{}, error)
}

// Mailer renders and delivers a templated email.
type Mailer interface {
	Send(ctx context.Context, to, templateID string, data map[string]string) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action, details string)
}
