package scheduling

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/domain/identity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/hipaa"
)

type fixture struct {
	slots    *mockSlotRepo
	appts    *mockAppointmentRepo
	profiles *mockProfiles
	payments *mockPayments
	notifier *mockNotifier
	rec      *mockRecorder
	svc      *Service

	doctor  *identity.Doctor
	patient *identity.Patient
}

// The fixture clock sits at 10:00 on 2026-03-10.
const (
	today    = "2026-03-10"
	tomorrow = "2026-03-11"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cipher, err := hipaa.NewEphemeralEncryptor()
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	f := &fixture{
		slots:    newMockSlotRepo(),
		appts:    newMockAppointmentRepo(),
		profiles: newMockProfiles(),
		payments: newMockPayments(),
		notifier: &mockNotifier{},
		rec:      &mockRecorder{},
	}
	f.svc = NewService(Deps{
		Slots:        f.slots,
		Appointments: f.appts,
		Profiles:     f.profiles,
		Payments:     f.payments,
		Tx:           db.NoTx{},
		Numbers:      &sequenceNumbers{},
		Cipher:       cipher,
		Notifier:     f.notifier,
		Activity:     f.rec,
		Logger:       zerolog.Nop(),
	})
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local) }
	f.doctor = f.profiles.addDoctor("Dr Sharma")
	f.patient = f.profiles.addPatient("Pat")
	return f
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.IsKind(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

func (f *fixture) slot(t *testing.T, date, start, end string) *TimeSlot {
	t.Helper()
	slots, err := f.svc.SetAvailability(context.Background(), f.doctor.UserID, date, []SlotInput{{start, end}})
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}
	return slots[0]
}

func (f *fixture) book(t *testing.T) *Appointment {
	t.Helper()
	s := f.slot(t, tomorrow, "09:00", "09:30")
	a, err := f.svc.Book(context.Background(), f.patient.UserID, s.ID, "checkup")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return a
}

// -- Availability --

func TestSetAvailability(t *testing.T) {
	f := newFixture(t)
	slots, err := f.svc.SetAvailability(context.Background(), f.doctor.UserID, tomorrow, []SlotInput{
		{"10:00", "10:30"}, {"09:00", "09:30"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 || slots[0].StartTime != "09:00" {
		t.Errorf("expected two slots sorted by start, got %+v", slots)
	}
	if !f.rec.has(activity.ActionAvailabilityUpdated) {
		t.Error("expected availability_updated activity")
	}
}

func TestSetAvailability_Invalid(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		date  string
		slots []SlotInput
	}{
		{"bad date", "10/03/2026", []SlotInput{{"09:00", "09:30"}}},
		{"no slots", tomorrow, nil},
		{"bad time", tomorrow, []SlotInput{{"9:00", "09:30"}}},
		{"hour out of range", tomorrow, []SlotInput{{"25:00", "25:30"}}},
		{"end before start", tomorrow, []SlotInput{{"10:00", "09:30"}}},
		{"zero length", tomorrow, []SlotInput{{"10:00", "10:00"}}},
		{"past date", "2026-03-09", []SlotInput{{"09:00", "09:30"}}},
		{"already started today", today, []SlotInput{{"09:30", "10:30"}}},
		{"overlap in request", tomorrow, []SlotInput{{"09:00", "10:00"}, {"09:30", "10:30"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SetAvailability(context.Background(), f.doctor.UserID, tc.date, tc.slots)
			expectKind(t, err, apperr.KindValidation)
		})
	}
}

func TestSetAvailability_AdjacentSlotsAllowed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetAvailability(context.Background(), f.doctor.UserID, tomorrow, []SlotInput{
		{"09:00", "09:30"}, {"09:30", "10:00"},
	})
	if err != nil {
		t.Fatalf("expected back-to-back slots to be accepted, got %v", err)
	}
}

func TestSetAvailability_OverlapsExisting(t *testing.T) {
	f := newFixture(t)
	f.slot(t, tomorrow, "09:00", "10:00")
	_, err := f.svc.SetAvailability(context.Background(), f.doctor.UserID, tomorrow, []SlotInput{{"09:45", "10:15"}})
	expectKind(t, err, apperr.KindConflict)
}

func TestSetAvailability_NotADoctor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetAvailability(context.Background(), f.patient.UserID, tomorrow, []SlotInput{{"09:00", "09:30"}})
	expectKind(t, err, apperr.KindNotFound)
}

func TestSetFees(t *testing.T) {
	f := newFixture(t)
	fees, err := f.svc.SetFees(context.Background(), f.doctor.UserID, 1000, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fees.ConsultationFee != 1000 || fees.FollowUpFee != 500 {
		t.Errorf("unexpected fees %+v", fees)
	}
	own, _ := f.svc.OwnFees(context.Background(), f.doctor.UserID)
	if own.ConsultationFee != 1000 {
		t.Errorf("expected stored fee, got %v", own.ConsultationFee)
	}
	_, err = f.svc.SetFees(context.Background(), f.doctor.UserID, -5, 0)
	expectKind(t, err, apperr.KindValidation)
}

func TestDoctorAvailability_OnlyFreeFutureSlots(t *testing.T) {
	f := newFixture(t)
	f.slot(t, today, "11:00", "11:30")
	booked := f.slot(t, tomorrow, "09:00", "09:30")
	f.slot(t, tomorrow, "10:00", "10:30")
	if _, err := f.svc.Book(context.Background(), f.patient.UserID, booked.ID, ""); err != nil {
		t.Fatalf("book: %v", err)
	}

	all, err := f.svc.DoctorAvailability(context.Background(), f.doctor.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 free slots, got %d", len(all))
	}
	onDate, _ := f.svc.DoctorAvailability(context.Background(), f.doctor.ID, tomorrow)
	if len(onDate) != 1 || onDate[0].StartTime != "10:00" {
		t.Errorf("expected only the 10:00 slot tomorrow, got %+v", onDate)
	}

	_, err = f.svc.DoctorAvailability(context.Background(), uuid.New(), "")
	expectKind(t, err, apperr.KindNotFound)
}

// -- Booking --

func TestBook(t *testing.T) {
	f := newFixture(t)
	s := f.slot(t, tomorrow, "09:00", "09:30")

	a, err := f.svc.Book(context.Background(), f.patient.UserID, s.ID, "  chest pain ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusBooked || a.BookingNumber == "" {
		t.Errorf("unexpected appointment %+v", a)
	}
	if a.Reason == nil || *a.Reason != "chest pain" {
		t.Errorf("expected trimmed reason, got %v", a.Reason)
	}
	stored, _ := f.slots.GetByID(context.Background(), s.ID)
	if !stored.IsBooked {
		t.Error("expected slot to be claimed")
	}
	if f.payments.pending[a.ID] != f.doctor.ConsultationFee {
		t.Errorf("expected pending payment of %v, got %v", f.doctor.ConsultationFee, f.payments.pending[a.ID])
	}
	if f.notifier.to(f.doctor.UserID) != 1 {
		t.Error("expected the doctor to be notified")
	}
	if !f.rec.has(activity.ActionAppointmentBooked) {
		t.Error("expected appointment_booked activity")
	}
}

func TestBook_SlotTaken(t *testing.T) {
	f := newFixture(t)
	s := f.slot(t, tomorrow, "09:00", "09:30")
	if _, err := f.svc.Book(context.Background(), f.patient.UserID, s.ID, ""); err != nil {
		t.Fatalf("book: %v", err)
	}
	other := f.profiles.addPatient("Other")
	_, err := f.svc.Book(context.Background(), other.UserID, s.ID, "")
	expectKind(t, err, apperr.KindConflict)
}

func TestBook_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	s := f.slot(t, tomorrow, "09:00", "09:30")

	const n = 8
	patients := make([]*identity.Patient, n)
	for i := range patients {
		patients[i] = f.profiles.addPatient("P")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, p := range patients {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), userID, s.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.IsKind(err, apperr.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p.UserID)
	}
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Errorf("expected 1 booking and %d conflicts, got %d and %d", n-1, successes, conflicts)
	}
	if len(f.payments.pending) != 1 {
		t.Errorf("expected a single pending payment, got %d", len(f.payments.pending))
	}
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), f.patient.UserID, uuid.New(), "")
	expectKind(t, err, apperr.KindNotFound)

	_, err = f.svc.Book(context.Background(), f.doctor.UserID, uuid.New(), "")
	expectKind(t, err, apperr.KindNotFound)

	s := f.slot(t, tomorrow, "09:00", "09:30")
	f.profiles.doctors[f.doctor.ID].KYCStatus = "pending"
	_, err = f.svc.Book(context.Background(), f.patient.UserID, s.ID, "")
	expectKind(t, err, apperr.KindValidation)

	f.profiles.doctors[f.doctor.ID].KYCStatus = "approved"
	f.svc.now = func() time.Time { return time.Date(2026, 3, 11, 9, 15, 0, 0, time.Local) }
	_, err = f.svc.Book(context.Background(), f.patient.UserID, s.ID, "")
	expectKind(t, err, apperr.KindValidation)
}

// -- Lifecycle --

func TestCancel_ByPatient(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)
	f.payments.status[a.ID] = "completed"

	who := auth.Identity{UserID: f.patient.UserID, Role: auth.RolePatient}
	got, err := f.svc.Cancel(context.Background(), who, a.ID, "travelling")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled || got.CancelReason == nil || *got.CancelReason != "travelling" {
		t.Errorf("unexpected appointment %+v", got)
	}
	slot, _ := f.slots.GetByID(context.Background(), a.TimeSlotID)
	if slot.IsBooked {
		t.Error("expected the slot to be released")
	}
	if f.payments.status[a.ID] != "refund_pending" {
		t.Errorf("expected refund_pending, got %s", f.payments.status[a.ID])
	}
	if f.notifier.to(f.doctor.UserID) != 2 {
		t.Error("expected the doctor to be notified of the cancellation")
	}

	_, err = f.svc.Cancel(context.Background(), who, a.ID, "")
	expectKind(t, err, apperr.KindValidation)
}

func TestCancel_ByDoctorLeavesPendingPayment(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)
	who := auth.Identity{UserID: f.doctor.UserID, Role: auth.RoleDoctor}
	if _, err := f.svc.Cancel(context.Background(), who, a.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.payments.status[a.ID] != "pending" {
		t.Errorf("expected unpaid booking to stay pending, got %s", f.payments.status[a.ID])
	}
	if f.notifier.to(f.patient.UserID) != 1 {
		t.Error("expected the patient to be notified")
	}
}

func TestCancel_Forbidden(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)
	stranger := f.profiles.addPatient("Stranger")

	for _, who := range []auth.Identity{
		{UserID: stranger.UserID, Role: auth.RolePatient},
		{UserID: f.patient.UserID, Role: auth.RoleDoctor},
		{UserID: uuid.New(), Role: auth.RoleAdmin},
	} {
		_, err := f.svc.Cancel(context.Background(), who, a.ID, "")
		expectKind(t, err, apperr.KindForbidden)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)

	other := f.profiles.addDoctor("Dr Other")
	_, err := f.svc.Complete(context.Background(), other.UserID, a.ID)
	expectKind(t, err, apperr.KindForbidden)

	got, err := f.svc.Complete(context.Background(), f.doctor.UserID, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	_, err = f.svc.Complete(context.Background(), f.doctor.UserID, a.ID)
	expectKind(t, err, apperr.KindValidation)

	who := auth.Identity{UserID: f.patient.UserID, Role: auth.RolePatient}
	_, err = f.svc.Cancel(context.Background(), who, a.ID, "")
	expectKind(t, err, apperr.KindValidation)
}

func TestMarkCompleted_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)
	if err := f.svc.MarkCompleted(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.MarkCompleted(context.Background(), a); err != nil {
		t.Fatalf("expected second call to be a no-op, got %v", err)
	}
}

// -- Listings --

func TestListings(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)

	items, total, err := f.svc.PatientAppointments(context.Background(), f.patient.UserID, "", 10, 0)
	if err != nil || total != 1 || items[0].ID != a.ID {
		t.Fatalf("unexpected patient listing: %d (%v)", total, err)
	}
	_, total, _ = f.svc.DoctorAppointments(context.Background(), f.doctor.UserID, StatusCancelled, 10, 0)
	if total != 0 {
		t.Errorf("expected no cancelled appointments, got %d", total)
	}
	_, _, err = f.svc.DoctorAppointments(context.Background(), f.doctor.UserID, "lost", 10, 0)
	expectKind(t, err, apperr.KindValidation)

	sched, err := f.svc.DoctorSchedule(context.Background(), f.doctor.UserID, tomorrow)
	if err != nil || len(sched) != 1 {
		t.Errorf("expected one appointment on the schedule, got %d (%v)", len(sched), err)
	}
	sched, _ = f.svc.DoctorSchedule(context.Background(), f.doctor.UserID, "")
	if len(sched) != 0 {
		t.Errorf("expected an empty schedule today, got %d", len(sched))
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.book(t)
	f.slot(t, tomorrow, "11:00", "11:30")

	st, err := f.svc.Stats(context.Background(), f.doctor.UserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalAppointments != 1 || st.BookedAppointments != 1 || st.TotalPatients != 1 || st.UpcomingSlots != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

// -- Notes --

func TestNotes_RoundTripEncrypted(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)

	_, err := f.svc.Notes(context.Background(), f.doctor.UserID, a.ID)
	expectKind(t, err, apperr.KindNotFound)

	if err := f.svc.SaveNotes(context.Background(), f.doctor.UserID, a.ID, "BP 140/90, follow up in 2 weeks"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(f.appts.notes[a.ID], "140/90") {
		t.Error("expected notes to be stored sealed")
	}
	got, err := f.svc.Notes(context.Background(), f.doctor.UserID, a.ID)
	if err != nil || got != "BP 140/90, follow up in 2 weeks" {
		t.Errorf("unexpected notes %q (%v)", got, err)
	}
	if !f.rec.has(activity.ActionConsultationUpdated) {
		t.Error("expected updated_consultation activity")
	}

	other := f.profiles.addDoctor("Dr Other")
	_, err = f.svc.Notes(context.Background(), other.UserID, a.ID)
	expectKind(t, err, apperr.KindForbidden)

	expectKind(t, f.svc.SaveNotes(context.Background(), f.doctor.UserID, a.ID, "  "), apperr.KindValidation)
}
