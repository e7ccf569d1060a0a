package account

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxFailedAttempts = 5
	LockDuration      = 5 * time.Minute
	OTPTTL            = 10 * time.Minute
	HistoryDepth      = 5
	MinPasswordLength = 8
)

const (
	KYCNotSubmitted = "not_submitted"
	KYCPending      = "pending"
	KYCApproved     = "approved"
	KYCRejected     = "rejected"
)

// User is the account row. Secrets never leave the service in JSON.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	EmailVerified       bool       `json:"email_verified"`
	OTP                 *string    `json:"-"`
	OTPExpires          *time.Time `json:"-"`
	FailedLoginAttempts int        `json:"-"`
	AccountLockedUntil  *time.Time `json:"-"`
	ResetToken          *string    `json:"-"`
	ResetTokenExpires   *time.Time `json:"-"`
	KYCStatus           string     `json:"kyc_status"`
	Phone               *string    `json:"phone,omitempty"`
	Address             *string    `json:"address,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// LockedAt reports whether the account is locked at now.
func (u *User) LockedAt(now time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}

// HistoryEntry is a superseded password hash. Rows are append-only.
type HistoryEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PasswordHash string
	CreatedAt    time.Time
}

// TrustedDevice binds a client-generated device id to one user.
type TrustedDevice struct {
	DeviceID  string
	UserID    uuid.UUID
	CreatedAt time.Time
}

type LoginInput struct {
	Email      string
	Password   string
	DeviceID   string
	RememberMe bool
}

// LoginResult is either a challenge (RequiresOTP) or a session.
type LoginResult struct {
	RequiresOTP bool
	Email       string
	Token       string
	ExpiresAt   time.Time
	Role        string
	KYCStatus   string
}

type DoctorSignup struct {
	NMCNumber                string
	Speciality               string
	EducationalQualification string
	CVURL                    string
}

type SignupInput struct {
	Name     string
	Email    string
	Password string
	Role     string
	Phone    string
	Doctor   *DoctorSignup
}

// ProfileUpdate carries the self-service editable fields. Nil means keep.
type ProfileUpdate struct {
	Name    *string
	Email   *string
	Phone   *string
	Address *string
}

// Profile is the authenticated user plus their role profile.
type Profile struct {
	*User
	RoleProfile interface{} `json:"profile,omitempty"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
