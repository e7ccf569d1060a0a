// Package kyc handles identity verification: users submit their citizenship
// documents and an admin approves or rejects them.
package kyc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/domain/inbox"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/db"
)

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action, details string)
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message, kind string)
}

type Service struct {
	repo     Repository
	tx       db.Transactor
	notifier Notifier
	activity ActivityRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, tx db.Transactor, notifier Notifier, rec ActivityRecorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		notifier: notifier,
		activity: rec,
		logger:   logger,
		now:      time.Now,
	}
}

// -- Submission --

func (s *Service) Submit(ctx context.Context, userID uuid.UUID, in SubmitInput) (*Record, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.CitizenshipNumber = strings.TrimSpace(in.CitizenshipNumber)
	if in.FullName == "" || in.CitizenshipNumber == "" || in.DateOfBirth.IsZero() ||
		in.CitizenshipFrontURL == "" || in.CitizenshipBackURL == "" {
		return nil, apperr.Validation("All KYC fields and both citizenship images are required")
	}
	if in.DateOfBirth.After(s.now()) {
		return nil, apperr.Validation("date_of_birth cannot be in the future")
	}

	latest, err := s.repo.Latest(ctx, userID)
	switch {
	case err == nil && latest.Status == StatusPending:
		return nil, apperr.Conflict("KYC already submitted and pending review")
	case err == nil && latest.Status == StatusApproved:
		return nil, apperr.Conflict("KYC already approved")
	case err != nil && !errors.Is(err, db.ErrNotFound):
		return nil, apperr.Internal(err)
	}

	rec := &Record{
		UserID:              userID,
		FullName:            in.FullName,
		DateOfBirth:         in.DateOfBirth,
		CitizenshipNumber:   in.CitizenshipNumber,
		CitizenshipFrontURL: in.CitizenshipFrontURL,
		CitizenshipBackURL:  in.CitizenshipBackURL,
		Status:              StatusPending,
		SubmittedAt:         s.now().UTC(),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, rec); err != nil {
			return err
		}
		return s.repo.SetUserStatus(ctx, userID, StatusPending)
	})
	if err != nil {
		// a concurrent submission lost the race on the open-record index
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("KYC already submitted and pending review")
		}
		return nil, apperr.Internal(err)
	}

	s.activity.Record(ctx, userID, activity.ActionKYCSubmitted, "KYC submitted for review")
	return rec, nil
}

// Status returns the user's latest submission, or nil with
// StatusNotSubmitted when there is none.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*Record, string, error) {
	rec, err := s.repo.Latest(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, StatusNotSubmitted, nil
	}
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	return rec, rec.Status, nil
}

// -- Review --

func (s *Service) Pending(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	items, total, err := s.repo.ListByStatus(ctx, StatusPending, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) Review(ctx context.Context, adminID, kycID uuid.UUID, in ReviewInput) (*Record, error) {
	if in.Status != StatusApproved && in.Status != StatusRejected {
		return nil, apperr.Validationf("status must be %s or %s", StatusApproved, StatusRejected)
	}
	var reason *string
	if in.Status == StatusRejected {
		r := strings.TrimSpace(in.RejectionReason)
		if r == "" {
			return nil, apperr.Validation("Rejection reason is required when rejecting KYC")
		}
		reason = &r
	}

	rec, err := s.repo.GetByID(ctx, kycID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("KYC record not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if rec.Status != StatusPending {
		return nil, apperr.Conflict("KYC record has already been reviewed")
	}

	at := s.now().UTC()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Review(ctx, kycID, in.Status, reason, adminID, at); err != nil {
			return err
		}
		return s.repo.SetUserStatus(ctx, rec.UserID, in.Status)
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Conflict("KYC record has already been reviewed")
		}
		return nil, apperr.Internal(err)
	}

	rec.Status = in.Status
	rec.RejectionReason = reason
	rec.ReviewedBy = &adminID
	rec.ReviewedAt = &at

	msg := "Your KYC verification has been approved."
	if in.Status == StatusRejected {
		msg = fmt.Sprintf("Your KYC verification was rejected: %s", *reason)
	}
	s.notifier.Notify(ctx, rec.UserID, msg, inbox.TypeKYC)
	s.activity.Record(ctx, adminID, activity.ActionKYCReviewed,
		fmt.Sprintf("KYC %s %s", kycID, in.Status))
	return rec, nil
}
