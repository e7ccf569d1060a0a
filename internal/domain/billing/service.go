package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/notification"
	"github.com/bspoke/health/pkg/ids"
)

type Mailer interface {
	Send(ctx context.Context, to, templateID string, data map[string]string) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	repo     Repository
	mailer   Mailer
	activity ActivityRecorder
	logger   zerolog.Logger
	newTxnID func() string
}

func NewService(repo Repository, mailer Mailer, rec ActivityRecorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		mailer:   mailer,
		activity: rec,
		logger:   logger,
		newTxnID: ids.NewTransactionID,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Payment not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

// -- Appointment hooks --

// CreatePending opens the charge for a freshly booked appointment. It runs
// inside the booking transaction, so errors are returned unwrapped.
func (s *Service) CreatePending(ctx context.Context, appointmentID uuid.UUID, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("negative amount %.2f for appointment %s", amount, appointmentID)
	}
	return s.repo.Create(ctx, &Payment{
		AppointmentID: appointmentID,
		Amount:        round2(amount),
		Status:        StatusPending,
	})
}

func (s *Service) MarkRefundPending(ctx context.Context, appointmentID uuid.UUID) error {
	return s.repo.MarkRefundPending(ctx, appointmentID)
}

// -- Patient --

// Process settles a pending payment for the patient who owes it.
func (s *Service) Process(ctx context.Context, patientUserID, id uuid.UUID, method string) (*Payment, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if !validMethods[method] {
		return nil, apperr.Validationf("unsupported payment method: %s", method)
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Appointment.PatientUserID != patientUserID {
		return nil, apperr.Forbidden("You can only pay for your own appointments")
	}
	if p.Status != StatusPending {
		return nil, apperr.Validationf("Payment is already %s", p.Status)
	}
	if p.Appointment.Status == "cancelled" {
		return nil, apperr.Validation("Cannot pay for a cancelled appointment")
	}

	txn := s.newTxnID()
	if err := s.repo.Complete(ctx, p.ID, method, txn); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Conflict("Payment is no longer pending")
		}
		return nil, apperr.Internal(err)
	}
	p.Status = StatusCompleted
	p.PaymentMethod = &method
	p.TransactionID = &txn

	s.activity.Record(ctx, patientUserID, activity.ActionPaymentCompleted,
		fmt.Sprintf("Paid %.2f for %s via %s (%s)", p.Amount, p.Appointment.BookingNumber, method, txn))
	return p, nil
}

// Get returns a payment to its patient, its doctor or an admin.
func (s *Service) Get(ctx context.Context, who auth.Identity, id uuid.UUID) (*Payment, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case who.Role == auth.RoleAdmin:
	case who.Role == auth.RolePatient && who.UserID == p.Appointment.PatientUserID:
	case who.Role == auth.RoleDoctor && who.UserID == p.Appointment.DoctorUserID:
	default:
		return nil, apperr.Forbidden("You are not allowed to view this payment")
	}
	return p, nil
}

// -- Admin --

type ListResult struct {
	Payments      []*Payment
	Total         int
	Summary       *Summary
	FilterOptions *FilterOptions
}

func (s *Service) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, apperr.Validationf("invalid status: %s", f.Status)
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return nil, apperr.Validation("minAmount cannot exceed maxAmount")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperr.Validation("Start date must be before end date")
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		f.SortBy = "created_at"
	}
	if f.SortOrder = strings.ToLower(f.SortOrder); f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}

	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	summary, err := s.repo.Summary(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	opts, err := s.repo.FilterOptions(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &ListResult{Payments: items, Total: total, Summary: summary, FilterOptions: opts}, nil
}

func (s *Service) AdminGet(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.load(ctx, id)
}

// Refund returns part or all of a completed payment and emails the patient.
func (s *Service) Refund(ctx context.Context, adminID, id uuid.UUID, amount float64, reason string) (*Payment, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, apperr.Validation("Invalid refund amount")
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = defaultRefundReason
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCompleted {
		return nil, apperr.Validation("Only completed payments can be refunded")
	}
	amount = round2(amount)
	if amount > p.Amount {
		return nil, apperr.Validation("Refund amount cannot exceed the original payment amount")
	}

	if err := s.repo.Refund(ctx, p.ID, amount, reason); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Conflict("Payment is no longer refundable")
		}
		return nil, apperr.Internal(err)
	}
	p.Status = StatusRefunded
	p.RefundAmount = &amount
	p.RefundReason = &reason

	// The refund stands even if the email bounces.
	if err := s.mailer.Send(ctx, p.Appointment.PatientEmail, notification.TemplatePaymentRefund, map[string]string{
		"name":   p.Appointment.PatientName,
		"amount": fmt.Sprintf("%.2f", amount),
		"reason": reason,
	}); err != nil {
		s.logger.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("refund email failed")
	}

	s.activity.Record(ctx, adminID, activity.ActionPaymentRefunded,
		fmt.Sprintf("Refunded %.2f of payment %s: %s", amount, p.ID, reason))
	return p, nil
}

// ParseDate accepts YYYY-MM-DD or RFC 3339. A bare date used as an upper
// bound covers the whole day.
func ParseDate(v string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, apperr.Validation("Invalid date format")
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// Report totals payments created between start and end, bucketed by day,
// month or year (UTC) and broken down by doctor speciality.
func (s *Service) Report(ctx context.Context, start, end, groupBy string) (*Report, error) {
	if start == "" || end == "" {
		return nil, apperr.Validation("Start date and end date are required")
	}
	if groupBy == "" {
		groupBy = GroupByDay
	}
	layout, ok := groupLayouts[groupBy]
	if !ok {
		return nil, apperr.Validation("groupBy must be one of day, month, year")
	}
	from, err := ParseDate(start, false)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end, true)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, apperr.Validation("Start date must be before end date")
	}

	rows, err := s.repo.ReportRows(ctx, from, to)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	type bucket struct {
		period  Period
		byspec  map[string]*SpecialityTotal
		specSeq []string
	}
	buckets := make(map[string]*bucket)
	var keys []string
	var totalAmount, totalRefunds float64

	for _, r := range rows {
		key := r.CreatedAt.UTC().Format(layout)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{period: Period{Date: key}, byspec: make(map[string]*SpecialityTotal)}
			buckets[key] = b
			keys = append(keys, key)
		}
		b.period.TotalAmount += r.Amount
		b.period.RefundAmount += r.RefundAmount
		b.period.Count++

		spec := r.Speciality
		if spec == "" {
			spec = "Unknown"
		}
		st, ok := b.byspec[spec]
		if !ok {
			st = &SpecialityTotal{Speciality: spec}
			b.byspec[spec] = st
			b.specSeq = append(b.specSeq, spec)
		}
		st.Amount += r.Amount
		st.Count++

		totalAmount += r.Amount
		totalRefunds += r.RefundAmount
	}

	sort.Strings(keys)
	periods := make([]Period, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		p := b.period
		p.NetAmount = round2(p.TotalAmount - p.RefundAmount)
		p.TotalAmount = round2(p.TotalAmount)
		p.RefundAmount = round2(p.RefundAmount)
		p.BySpeciality = make([]SpecialityTotal, 0, len(b.specSeq))
		for _, spec := range b.specSeq {
			st := *b.byspec[spec]
			st.Amount = round2(st.Amount)
			p.BySpeciality = append(p.BySpeciality, st)
		}
		periods = append(periods, p)
	}

	return &Report{
		Periods: periods,
		Summary: ReportSummary{
			TotalPayments: len(rows),
			TotalAmount:   round2(totalAmount),
			TotalRefunds:  round2(totalRefunds),
			NetRevenue:    round2(totalAmount - totalRefunds),
			DateRange:     DateRange{Start: start, End: end},
		},
	}, nil
}
