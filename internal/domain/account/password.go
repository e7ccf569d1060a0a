package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/notification"
)

const reuseMessage = "New password cannot be any of your last 5 passwords. Please choose a different password."

var errBadResetToken = apperr.Validation("Invalid or expired reset token")

// ForgotPassword emails a one-hour reset link to a verified account.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperr.Validation("Email is required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("User not found")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if !u.EmailVerified {
		return apperr.Forbidden("Email not verified. Please verify your email first.")
	}

	token, expires, err := s.tokens.IssueReset(u.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.users.SetResetToken(ctx, u.ID, token, expires); err != nil {
		return apperr.Internal(fmt.Errorf("store reset token: %w", err))
	}

	link := fmt.Sprintf("%s/set-new-password?token=%s", s.frontendURL, url.QueryEscape(token))
	if err := s.mailer.Send(ctx, u.Email, notification.TemplatePasswordReset, map[string]string{
		"name":       u.Name,
		"reset_link": link,
	}); err != nil {
		return apperr.Internal(fmt.Errorf("send reset email: %w", err))
	}
	s.activity.Record(ctx, u.ID, activity.ActionPasswordResetRequest, fmt.Sprintf("Password reset requested for %s", u.Email))
	return nil
}

// ResetPassword sets a new password using a reset token. The token must be
// validly signed and also match the one stored for the user.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return apperr.Validation("Token and new password are required")
	}
	if len(newPassword) < MinPasswordLength {
		return apperr.Validationf("Password must be at least %d characters", MinPasswordLength)
	}

	userID, err := s.tokens.ParseReset(token)
	if err != nil {
		return errBadResetToken
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return errBadResetToken
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if u.ResetToken == nil || *u.ResetToken != token ||
		u.ResetTokenExpires == nil || !u.ResetTokenExpires.After(s.now()) {
		return errBadResetToken
	}

	if err := s.changePassword(ctx, u, newPassword); err != nil {
		return err
	}
	s.activity.Record(ctx, u.ID, activity.ActionPasswordChanged, "Password changed via reset token")
	return nil
}

// ChangePassword replaces the password of a signed-in user who knows the
// current one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, newPassword string) error {
	if current == "" || newPassword == "" {
		return apperr.Validation("Current password and new password are required")
	}
	if len(newPassword) < MinPasswordLength {
		return apperr.Validationf("Password must be at least %d characters", MinPasswordLength)
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("User not found")
	}
	if err != nil {
		return apperr.Internal(err)
	}

	match, err := s.hasher.Compare(u.PasswordHash, current)
	if err != nil {
		return apperr.Internal(err)
	}
	if !match {
		return apperr.Validation("Current password is incorrect")
	}

	if err := s.changePassword(ctx, u, newPassword); err != nil {
		return err
	}
	s.activity.Record(ctx, u.ID, activity.ActionPasswordChanged, "Password changed via current password")
	return nil
}

// changePassword checks the live hash and the ledger, then appends the
// outgoing hash and swaps in the new one atomically. Sessions issued before
// the change are revoked afterwards.
func (s *Service) changePassword(ctx context.Context, u *User, newPassword string) error {
	same, err := s.hasher.Compare(u.PasswordHash, newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if same {
		return apperr.Validation(reuseMessage)
	}
	reused, err := s.history.WouldReuse(ctx, u.ID, newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if reused {
		return apperr.Validation(reuseMessage)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.history.Record(ctx, u.ID, u.PasswordHash); err != nil {
			return err
		}
		return s.users.UpdatePassword(ctx, u.ID, hash)
	})
	if err != nil {
		return apperr.Internal(fmt.Errorf("replace password: %w", err))
	}
	u.PasswordHash = hash
	u.ResetToken, u.ResetTokenExpires = nil, nil

	if err := s.revoker.RevokeUser(ctx, u.ID.String(), s.now()); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("revoke sessions after password change")
	}
	return nil
}
