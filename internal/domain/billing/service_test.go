package billing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/notification"
)

type fixture struct {
	repo   *mockRepo
	sender *notification.MockEmailSender
	rec    *mockRecorder
	svc    *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMockRepo(),
		sender: &notification.MockEmailSender{},
		rec:    &mockRecorder{},
	}
	mailer := notification.NewMailer(f.sender, notification.NewTemplateEngine(), zerolog.Nop())
	f.svc = NewService(f.repo, mailer, f.rec, zerolog.Nop())
	f.svc.newTxnID = func() string { return "TXN-test" }
	return f
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.IsKind(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

func strPtr(s string) *string     { return &s }
func floatPtr(v float64) *float64 { return &v }

// -- Appointment hooks --

func TestCreatePending(t *testing.T) {
	f := newFixture()
	apptID := uuid.New()
	if err := f.svc.CreatePending(context.Background(), apptID, 800.456); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.repo.payments) != 1 {
		t.Fatalf("expected one payment, got %d", len(f.repo.payments))
	}
	for _, p := range f.repo.payments {
		if p.Status != StatusPending || p.AppointmentID != apptID {
			t.Errorf("unexpected payment %+v", p)
		}
		if p.Amount != 800.46 {
			t.Errorf("expected amount rounded to 800.46, got %v", p.Amount)
		}
	}

	if err := f.svc.CreatePending(context.Background(), apptID, 800); !db.IsUniqueViolation(err) {
		t.Errorf("expected unique violation for a second payment, got %v", err)
	}
	if err := f.svc.CreatePending(context.Background(), uuid.New(), -1); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestMarkRefundPending_OnlyCompleted(t *testing.T) {
	f := newFixture()
	pending := f.repo.seed(&Payment{Amount: 500, Status: StatusPending})
	done := f.repo.seed(&Payment{Amount: 500, Status: StatusCompleted})
	ctx := context.Background()

	if err := f.svc.MarkRefundPending(ctx, pending.AppointmentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.MarkRefundPending(ctx, done.AppointmentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending.Status != StatusPending {
		t.Errorf("expected pending payment untouched, got %s", pending.Status)
	}
	if done.Status != StatusRefundPending {
		t.Errorf("expected refund_pending, got %s", done.Status)
	}
}

// -- Process --

func TestProcess(t *testing.T) {
	f := newFixture()
	p := f.repo.seed(&Payment{Amount: 800, Status: StatusPending})

	got, err := f.svc.Process(context.Background(), p.Appointment.PatientUserID, p.ID, " Khalti ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.TransactionID == nil || *got.TransactionID != "TXN-test" {
		t.Errorf("expected transaction id, got %v", got.TransactionID)
	}
	if got.PaymentMethod == nil || *got.PaymentMethod != "khalti" {
		t.Errorf("expected normalized method, got %v", got.PaymentMethod)
	}
	if f.repo.payments[p.ID].Status != StatusCompleted {
		t.Error("expected stored payment to be completed")
	}
	if !f.rec.has(activity.ActionPaymentCompleted) {
		t.Error("expected payment_completed activity")
	}

	_, err = f.svc.Process(context.Background(), p.Appointment.PatientUserID, p.ID, "khalti")
	expectKind(t, err, apperr.KindValidation)
}

func TestProcess_Rejections(t *testing.T) {
	f := newFixture()
	p := f.repo.seed(&Payment{Amount: 800, Status: StatusPending})
	ctx := context.Background()

	_, err := f.svc.Process(ctx, uuid.New(), p.ID, "card")
	expectKind(t, err, apperr.KindForbidden)

	_, err = f.svc.Process(ctx, p.Appointment.PatientUserID, p.ID, "bitcoin")
	expectKind(t, err, apperr.KindValidation)

	_, err = f.svc.Process(ctx, p.Appointment.PatientUserID, uuid.New(), "card")
	expectKind(t, err, apperr.KindNotFound)

	p.Appointment.Status = "cancelled"
	_, err = f.svc.Process(ctx, p.Appointment.PatientUserID, p.ID, "card")
	expectKind(t, err, apperr.KindValidation)
}

// -- Details --

func TestGet_Visibility(t *testing.T) {
	f := newFixture()
	p := f.repo.seed(&Payment{Amount: 800, Status: StatusPending})
	ctx := context.Background()

	cases := []struct {
		name string
		who  auth.Identity
		ok   bool
	}{
		{"patient", auth.Identity{UserID: p.Appointment.PatientUserID, Role: auth.RolePatient}, true},
		{"doctor", auth.Identity{UserID: p.Appointment.DoctorUserID, Role: auth.RoleDoctor}, true},
		{"admin", auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin}, true},
		{"other patient", auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}, false},
		{"doctor id as patient", auth.Identity{UserID: p.Appointment.DoctorUserID, Role: auth.RolePatient}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Get(ctx, tc.who, p.ID)
			if tc.ok && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tc.ok {
				expectKind(t, err, apperr.KindForbidden)
			}
		})
	}
}

// -- Admin list --

func seedListing(f *fixture) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.repo.seed(&Payment{Amount: 500, Status: StatusCompleted, PaymentMethod: strPtr("khalti"), CreatedAt: base})
	f.repo.seed(&Payment{Amount: 1500, Status: StatusRefunded, PaymentMethod: strPtr("card"),
		RefundAmount: floatPtr(300), CreatedAt: base.Add(24 * time.Hour)})
	f.repo.seed(&Payment{Amount: 800, Status: StatusPending, CreatedAt: base.Add(48 * time.Hour)})
}

func TestList_SummaryAndOptions(t *testing.T) {
	f := newFixture()
	seedListing(f)

	res, err := f.svc.List(context.Background(), Filter{Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 3 || len(res.Payments) != 3 {
		t.Fatalf("expected 3 payments, got %d/%d", len(res.Payments), res.Total)
	}
	if res.Payments[0].Amount != 800 {
		t.Errorf("expected newest first by default, got %v", res.Payments[0].Amount)
	}
	if res.Summary.TotalAmount != 2800 || res.Summary.TotalRefunds != 300 || res.Summary.NetRevenue != 2500 {
		t.Errorf("unexpected summary %+v", res.Summary)
	}
	if strings.Join(res.FilterOptions.PaymentMethods, ",") != "card,khalti" {
		t.Errorf("unexpected methods %v", res.FilterOptions.PaymentMethods)
	}
	if len(res.FilterOptions.Statuses) != 3 {
		t.Errorf("expected 3 statuses, got %v", res.FilterOptions.Statuses)
	}
}

func TestList_Filters(t *testing.T) {
	f := newFixture()
	seedListing(f)
	ctx := context.Background()

	res, err := f.svc.List(ctx, Filter{MinAmount: floatPtr(600), SortBy: "amount", SortOrder: "ASC", Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 2 || res.Payments[0].Amount != 800 || res.Payments[1].Amount != 1500 {
		t.Errorf("expected 800 then 1500, got %+v", res.Payments)
	}
	if res.Summary.Count != 2 {
		t.Errorf("expected summary over the filtered set, got %d", res.Summary.Count)
	}

	res, err = f.svc.List(ctx, Filter{Method: "khalti", Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("expected one khalti payment, got %d", res.Total)
	}

	_, err = f.svc.List(ctx, Filter{Status: "lost"})
	expectKind(t, err, apperr.KindValidation)

	_, err = f.svc.List(ctx, Filter{MinAmount: floatPtr(10), MaxAmount: floatPtr(5)})
	expectKind(t, err, apperr.KindValidation)
}

// -- Refund --

func TestRefund(t *testing.T) {
	f := newFixture()
	p := f.repo.seed(&Payment{Amount: 800, Status: StatusCompleted})

	got, err := f.svc.Refund(context.Background(), uuid.New(), p.ID, 300, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusRefunded || *got.RefundAmount != 300 {
		t.Errorf("unexpected refund %+v", got)
	}
	if *got.RefundReason != defaultRefundReason {
		t.Errorf("expected default reason, got %q", *got.RefundReason)
	}

	msg, ok := f.sender.Last()
	if !ok {
		t.Fatal("expected refund email")
	}
	if msg.To != "pat@example.com" {
		t.Errorf("expected email to patient, got %s", msg.To)
	}
	if !strings.Contains(msg.Text, "300.00") || !strings.Contains(msg.HTML, "Hello Pat") {
		t.Errorf("unexpected email body %q / %q", msg.Text, msg.HTML)
	}
	if !f.rec.has(activity.ActionPaymentRefunded) {
		t.Error("expected payment_refunded activity")
	}
}

func TestRefund_Rejections(t *testing.T) {
	f := newFixture()
	completed := f.repo.seed(&Payment{Amount: 800, Status: StatusCompleted})
	pending := f.repo.seed(&Payment{Amount: 800, Status: StatusPending})
	ctx := context.Background()
	admin := uuid.New()

	_, err := f.svc.Refund(ctx, admin, completed.ID, 0, "")
	expectKind(t, err, apperr.KindValidation)

	_, err = f.svc.Refund(ctx, admin, completed.ID, 800.01, "")
	expectKind(t, err, apperr.KindValidation)

	_, err = f.svc.Refund(ctx, admin, pending.ID, 100, "")
	expectKind(t, err, apperr.KindValidation)

	_, err = f.svc.Refund(ctx, admin, uuid.New(), 100, "")
	expectKind(t, err, apperr.KindNotFound)

	if len(f.sender.Calls()) != 0 {
		t.Error("expected no emails for rejected refunds")
	}
}

func TestRefund_EmailFailureKeepsRefund(t *testing.T) {
	f := newFixture()
	f.sender.ShouldFail = true
	p := f.repo.seed(&Payment{Amount: 800, Status: StatusCompleted})

	if _, err := f.svc.Refund(context.Background(), uuid.New(), p.ID, 800, "Doctor unavailable"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.payments[p.ID].Status != StatusRefunded {
		t.Error("expected payment to stay refunded")
	}
}

// -- Report --

func TestReport_GroupsByDayAndSpeciality(t *testing.T) {
	f := newFixture()
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	derm := &AppointmentInfo{ID: uuid.New(), Speciality: "Dermatology"}
	f.repo.seed(&Payment{Amount: 500, Status: StatusCompleted, CreatedAt: day1})
	f.repo.seed(&Payment{Amount: 250.5, Status: StatusCompleted, CreatedAt: day1.Add(time.Hour), Appointment: derm})
	f.repo.seed(&Payment{Amount: 1000, Status: StatusRefunded, RefundAmount: floatPtr(400), CreatedAt: day2})
	f.repo.seed(&Payment{Amount: 999, Status: StatusCompleted, CreatedAt: day2.AddDate(0, 1, 0)})

	rep, err := f.svc.Report(context.Background(), "2026-03-01", "2026-03-02", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Periods) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(rep.Periods))
	}
	first := rep.Periods[0]
	if first.Date != "2026-03-01" || first.Count != 2 || first.TotalAmount != 750.5 {
		t.Errorf("unexpected first period %+v", first)
	}
	if len(first.BySpeciality) != 2 {
		t.Errorf("expected two specialities, got %+v", first.BySpeciality)
	}
	second := rep.Periods[1]
	if second.RefundAmount != 400 || second.NetAmount != 600 {
		t.Errorf("unexpected second period %+v", second)
	}
	if rep.Summary.TotalPayments != 3 || rep.Summary.TotalAmount != 1750.5 || rep.Summary.NetRevenue != 1350.5 {
		t.Errorf("unexpected summary %+v", rep.Summary)
	}
}

func TestReport_GroupByMonth(t *testing.T) {
	f := newFixture()
	f.repo.seed(&Payment{Amount: 100, CreatedAt: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)})
	f.repo.seed(&Payment{Amount: 100, CreatedAt: time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)})
	f.repo.seed(&Payment{Amount: 100, CreatedAt: time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)})

	rep, err := f.svc.Report(context.Background(), "2026-01-01", "2026-12-31", GroupByMonth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Periods) != 2 || rep.Periods[0].Date != "2026-01" || rep.Periods[0].Count != 2 {
		t.Errorf("unexpected periods %+v", rep.Periods)
	}
}

func TestReport_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cases := []struct{ start, end, group string }{
		{"", "2026-01-01", "day"},
		{"2026-01-02", "2026-01-01", "day"},
		{"yesterday", "2026-01-01", "day"},
		{"2026-01-01", "2026-01-02", "week"},
	}
	for _, tc := range cases {
		_, err := f.svc.Report(ctx, tc.start, tc.end, tc.group)
		expectKind(t, err, apperr.KindValidation)
	}
}
