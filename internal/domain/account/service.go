// Package account owns registration, the login state machine, email OTP
// challenges, trusted devices and the password lifecycle.
package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
)

// Deps are the collaborators of Service.
type Deps struct {
	Users       UserRepository
	History     HistoryRepository
	Devices     DeviceRepository
	Profiles    ProfileStore
	Tx          db.Transactor
	Hasher      auth.PasswordHasher
	Tokens      *auth.TokenIssuer
	Revoker     auth.Revoker
	Mailer      Mailer
	Activity    ActivityRecorder
	Logger      zerolog.Logger
	FrontendURL string
}

type Service struct {
	users       UserRepository
	profiles    ProfileStore
	tx          db.Transactor
	hasher      auth.PasswordHasher
	tokens      *auth.TokenIssuer
	revoker     auth.Revoker
	mailer      Mailer
	activity    ActivityRecorder
	logger      zerolog.Logger
	frontendURL string
	now         func() time.Time

	otp     *OTPIssuer
	devices *DeviceRegistry
	history *PasswordHistory
}

func NewService(d Deps) *Service {
	devices := NewDeviceRegistry(d.Devices)
	return &Service{
		users:       d.Users,
		profiles:    d.Profiles,
		tx:          d.Tx,
		hasher:      d.Hasher,
		tokens:      d.Tokens,
		revoker:     d.Revoker,
		mailer:      d.Mailer,
		activity:    d.Activity,
		logger:      d.Logger,
		frontendURL: strings.TrimRight(d.FrontendURL, "/"),
		now:         time.Now,
		otp:         NewOTPIssuer(d.Users, devices, d.Mailer, d.Activity, d.Logger),
		devices:     devices,
		history:     NewPasswordHistory(d.History, d.Hasher),
	}
}

// setClock pins every time source of the service and its helpers.
func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.otp.now = now
	s.history.now = now
}

// -- Registration --

// Signup creates a Patient or Doctor account with its role profile and
// sends the first OTP.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, apperr.Validation("Name, email and password are required")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.Validationf("Password must be at least %d characters", MinPasswordLength)
	}
	switch in.Role {
	case auth.RolePatient:
	case auth.RoleDoctor:
		if in.Doctor == nil || in.Doctor.NMCNumber == "" || in.Doctor.Speciality == "" ||
			in.Doctor.EducationalQualification == "" {
			return nil, apperr.Validation("nmc_number, speciality and educational_qualification are required for doctors")
		}
	default:
		return nil, apperr.Validation("role must be Patient or Doctor")
	}

	u, err := s.createAccount(ctx, in, false)
	if err != nil {
		return nil, err
	}

	if err := s.otp.Issue(ctx, u); err != nil {
		return nil, apperr.Internal(err)
	}
	s.activity.Record(ctx, u.ID, activity.ActionSignup, fmt.Sprintf("User %s signed up as %s", u.Email, u.Role))
	return u, nil
}

// CreateAdmin bootstraps an already-verified Admin account.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if strings.TrimSpace(name) == "" || email == "" {
		return nil, apperr.Validation("name and email are required")
	}
	if len(password) < MinPasswordLength {
		return nil, apperr.Validationf("Password must be at least %d characters", MinPasswordLength)
	}
	u, err := s.createAccount(ctx, SignupInput{
		Name: strings.TrimSpace(name), Email: email, Password: password, Role: auth.RoleAdmin,
	}, true)
	if err != nil {
		return nil, err
	}
	s.activity.Record(ctx, u.ID, activity.ActionAdminCreated, fmt.Sprintf("Admin %s created", u.Email))
	return u, nil
}

func (s *Service) createAccount(ctx context.Context, in SignupInput, verified bool) (*User, error) {
	taken, err := s.users.EmailTaken(ctx, in.Email, uuid.Nil)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("check email: %w", err))
	}
	if taken {
		return nil, apperr.Validation("Email already registered")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	u := &User{
		Name:          in.Name,
		Email:         in.Email,
		PasswordHash:  hash,
		Role:          in.Role,
		EmailVerified: verified,
		KYCStatus:     KYCNotSubmitted,
	}
	if in.Phone != "" {
		phone := in.Phone
		u.Phone = &phone
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		switch u.Role {
		case auth.RoleDoctor:
			if err := s.profiles.CreateDoctor(ctx, u.ID, *in.Doctor); err != nil {
				return fmt.Errorf("create doctor profile: %w", err)
			}
		case auth.RolePatient:
			if err := s.profiles.CreatePatient(ctx, u.ID); err != nil {
				return fmt.Errorf("create patient profile: %w", err)
			}
		}
		return nil
	})
	if db.IsUniqueViolation(err) {
		return nil, apperr.Validation("Email already registered")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("create account: %w", err))
	}
	return u, nil
}

// VerifyOTP consumes an email code and optionally trusts the device.
func (s *Service) VerifyOTP(ctx context.Context, email, code, deviceID string) (*User, error) {
	return s.otp.Verify(ctx, email, code, deviceID)
}

// -- Login --

// Login runs the credential check, lockout, email verification and device
// trust steps in that order. A nil error with RequiresOTP set means a code
// was emailed and no token was issued.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return nil, apperr.Validation("Device ID is required for login")
	}
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperr.Validation("Email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.InvalidCredentials(-1)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load user: %w", err))
	}

	now := s.now()
	if u.LockedAt(now) {
		return nil, apperr.AccountLocked(minutesUntil(now, *u.AccountLockedUntil))
	}

	match, err := s.hasher.Compare(u.PasswordHash, in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !match {
		return nil, s.recordFailure(ctx, u, now)
	}
	if u.FailedLoginAttempts != 0 || u.AccountLockedUntil != nil {
		if err := s.users.SetLoginFailures(ctx, u.ID, 0, nil); err != nil {
			return nil, apperr.Internal(fmt.Errorf("reset login failures: %w", err))
		}
	}

	if !u.EmailVerified {
		if err := s.otp.Issue(ctx, u); err != nil {
			return nil, apperr.Internal(err)
		}
		s.activity.Record(ctx, u.ID, activity.ActionOTPSent, fmt.Sprintf("OTP sent to %s", u.Email))
		return &LoginResult{RequiresOTP: true, Email: u.Email}, nil
	}

	known, err := s.devices.Lookup(ctx, deviceID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	trusted := known != nil && known.UserID == u.ID

	// The remember-me preference is applied before the OTP decision, so a
	// new device saved here still has to pass the challenge this time.
	switch {
	case !in.RememberMe && known != nil:
		err = s.devices.Remove(ctx, deviceID)
	case in.RememberMe && known == nil:
		err = s.devices.Upsert(ctx, deviceID, u.ID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if !trusted {
		if err := s.otp.Issue(ctx, u); err != nil {
			return nil, apperr.Internal(err)
		}
		s.logger.Info().Str("user_id", u.ID.String()).Str("device_id", deviceID).Msg("otp required for untrusted device")
		return &LoginResult{RequiresOTP: true, Email: u.Email}, nil
	}

	res, err := s.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	s.activity.Record(ctx, u.ID, activity.ActionLogin, fmt.Sprintf("User %s logged in from device %s", u.Email, deviceID))
	return res, nil
}

func (s *Service) recordFailure(ctx context.Context, u *User, now time.Time) error {
	attempts := u.FailedLoginAttempts + 1
	var lockedUntil *time.Time
	if attempts >= MaxFailedAttempts {
		until := now.Add(LockDuration)
		lockedUntil = &until
		attempts = 0
	}
	if err := s.users.SetLoginFailures(ctx, u.ID, attempts, lockedUntil); err != nil {
		return apperr.Internal(fmt.Errorf("record login failure: %w", err))
	}
	if lockedUntil != nil {
		s.logger.Warn().Str("user_id", u.ID.String()).Time("locked_until", *lockedUntil).Msg("account locked")
		e := apperr.AccountLocked(int(LockDuration / time.Minute))
		e.Message = "Account locked due to too many failed attempts. Try again in 5 minutes."
		return e
	}
	return apperr.InvalidCredentials(MaxFailedAttempts - attempts)
}

func (s *Service) issueSession(ctx context.Context, u *User) (*LoginResult, error) {
	id := auth.Identity{UserID: u.ID, Role: u.Role, KYCStatus: u.KYCStatus}
	if u.Role == auth.RoleDoctor {
		doctorID, err := s.profiles.DoctorIDForUser(ctx, u.ID)
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("resolve doctor profile: %w", err))
		}
		id.DoctorID = doctorID
	}
	token, claims, err := s.tokens.IssueSession(id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &LoginResult{
		Email:     u.Email,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Role:      u.Role,
		KYCStatus: u.KYCStatus,
	}, nil
}

// minutesUntil rounds up so a lock with seconds left still reports one minute.
func minutesUntil(now, until time.Time) int {
	return int(math.Ceil(until.Sub(now).Minutes()))
}

// Logout revokes the presented session token until it would have expired.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return apperr.Unauthorized("authentication required")
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperr.Internal(fmt.Errorf("revoke token: %w", err))
	}
	uid, _ := uuid.Parse(claims.Subject)
	s.activity.Record(ctx, uid, activity.ActionLogout, "User logged out")
	return nil
}

// -- Profile --

func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	rp, err := s.profiles.RoleProfile(ctx, u.ID, u.Role)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Internal(fmt.Errorf("load role profile: %w", err))
	}
	return &Profile{User: u, RoleProfile: rp}, nil
}

// UpdateProfile edits the self-service fields. A new email address must be
// verified again, so it gets a fresh OTP.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		u.Name = name
	}
	emailChanged := false
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if email == "" {
			return nil, apperr.Validation("email cannot be empty")
		}
		if email != u.Email {
			taken, err := s.users.EmailTaken(ctx, email, u.ID)
			if err != nil {
				return nil, apperr.Internal(err)
			}
			if taken {
				return nil, apperr.Conflict("Email already in use")
			}
			u.Email = email
			u.EmailVerified = false
			emailChanged = true
		}
	}
	if in.Phone != nil {
		u.Phone = in.Phone
	}
	if in.Address != nil {
		u.Address = in.Address
	}

	if err := s.users.UpdateProfile(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Email already in use")
		}
		return nil, apperr.Internal(fmt.Errorf("update profile: %w", err))
	}
	if emailChanged {
		if err := s.otp.Issue(ctx, u); err != nil {
			return nil, apperr.Internal(err)
		}
	}
	s.activity.Record(ctx, u.ID, activity.ActionProfileUpdated, "Profile updated")
	return u, nil
}
