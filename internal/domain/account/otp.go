package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/notification"
)

// OTPIssuer issues and verifies the six-digit email codes. A user has at
// most one live code; issuing again overwrites it.
type OTPIssuer struct {
	users    UserRepository
	devices  *DeviceRegistry
	mailer   Mailer
	activity ActivityRecorder
	logger   zerolog.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewOTPIssuer(users UserRepository, devices *DeviceRegistry, mailer Mailer, rec ActivityRecorder, logger zerolog.Logger) *OTPIssuer {
	return &OTPIssuer{
		users:    users,
		devices:  devices,
		mailer:   mailer,
		activity: rec,
		logger:   logger,
		now:      time.Now,
		generate: generateOTP,
	}
}

// generateOTP draws a code in [100000, 999999] from crypto/rand.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Issue stores a fresh code valid for OTPTTL and emails it. The code stays
// stored when delivery fails; the caller gets the delivery error.
func (o *OTPIssuer) Issue(ctx context.Context, u *User) error {
	code, err := o.generate()
	if err != nil {
		return err
	}
	expires := o.now().Add(OTPTTL)
	if err := o.users.SetOTP(ctx, u.ID, code, expires); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	u.OTP, u.OTPExpires = &code, &expires

	if err := o.mailer.Send(ctx, u.Email, notification.TemplateEmailVerification, map[string]string{
		"otp":  code,
		"name": u.Name,
	}); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// Verify consumes code for email. Unknown emails, wrong codes and expired
// codes are indistinguishable to the caller. On success the device, when
// given, becomes trusted for this user.
func (o *OTPIssuer) Verify(ctx context.Context, email, code, deviceID string) (*User, error) {
	email, code = normalizeEmail(email), strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, apperr.Validation("Email and OTP are required")
	}

	u, err := o.users.ConsumeOTP(ctx, email, code, o.now())
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.InvalidOTP()
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("consume otp: %w", err))
	}

	if deviceID = strings.TrimSpace(deviceID); deviceID != "" {
		if err := o.devices.Upsert(ctx, deviceID, u.ID); err != nil {
			return nil, apperr.Internal(err)
		}
		o.logger.Debug().Str("user_id", u.ID.String()).Str("device_id", deviceID).Msg("device trusted after otp")
	}

	o.activity.Record(ctx, u.ID, activity.ActionOTPVerified, fmt.Sprintf("OTP verified for %s", u.Email))
	return u, nil
}
