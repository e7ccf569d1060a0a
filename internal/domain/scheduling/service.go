// Package scheduling owns doctors' time slots and fees and the appointment
// lifecycle: booking, completion, cancellation and consultation notes.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/account"
	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/domain/identity"
	"github.com/bspoke/health/internal/domain/inbox"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/hipaa"
)

const maxSlotsPerRequest = 48

// Profiles resolves the doctor and patient profiles behind signed-in users.
type Profiles interface {
	DoctorByUser(ctx context.Context, userID uuid.UUID) (*identity.Doctor, error)
	PatientByUser(ctx context.Context, userID uuid.UUID) (*identity.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
	SetFees(ctx context.Context, doctorID uuid.UUID, consultation, followUp float64) error
}

// Payments is the billing side of an appointment.
type Payments interface {
	CreatePending(ctx context.Context, appointmentID uuid.UUID, amount float64) error
	// MarkRefundPending flags a completed payment for refund; other states
	// are left alone.
	MarkRefundPending(ctx context.Context, appointmentID uuid.UUID) error
}

type BookingNumbers interface {
	Next() string
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message, kind string)
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action, details string)
}

type Deps struct {
	Slots        SlotRepository
	Appointments AppointmentRepository
	Profiles     Profiles
	Payments     Payments
	Tx           db.Transactor
	Numbers      BookingNumbers
	Cipher       hipaa.Cipher
	Notifier     Notifier
	Activity     ActivityRecorder
	Logger       zerolog.Logger
}

type Service struct {
	slots        SlotRepository
	appointments AppointmentRepository
	profiles     Profiles
	payments     Payments
	tx           db.Transactor
	numbers      BookingNumbers
	cipher       hipaa.Cipher
	notifier     Notifier
	activity     ActivityRecorder
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		slots:        d.Slots,
		appointments: d.Appointments,
		profiles:     d.Profiles,
		payments:     d.Payments,
		tx:           d.Tx,
		numbers:      d.Numbers,
		cipher:       d.Cipher,
		notifier:     d.Notifier,
		activity:     d.Activity,
		logger:       d.Logger,
		now:          time.Now,
	}
}

// clock returns today's date and the current HH:MM.
func (s *Service) clock() (string, string) {
	now := s.now()
	return now.Format(dateLayout), now.Format(timeLayout)
}

func validTime(v string) bool {
	if len(v) != len(timeLayout) {
		return false
	}
	_, err := time.Parse(timeLayout, v)
	return err == nil
}

// -- Availability --

// SetAvailability adds slots on date to the signed-in doctor's calendar.
func (s *Service) SetAvailability(ctx context.Context, doctorUserID uuid.UUID, date string, in []SlotInput) ([]*TimeSlot, error) {
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, err
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, apperr.Validation("date must be in YYYY-MM-DD format")
	}
	if len(in) == 0 {
		return nil, apperr.Validation("At least one time slot is required")
	}
	if len(in) > maxSlotsPerRequest {
		return nil, apperr.Validationf("At most %d time slots can be set at once", maxSlotsPerRequest)
	}

	today, nowHHMM := s.clock()
	if date < today {
		return nil, apperr.Validation("Cannot set availability for a past date")
	}

	slots := make([]*TimeSlot, 0, len(in))
	for _, si := range in {
		start, end := strings.TrimSpace(si.StartTime), strings.TrimSpace(si.EndTime)
		if !validTime(start) || !validTime(end) {
			return nil, apperr.Validation("Times must be in HH:MM format")
		}
		if end <= start {
			return nil, apperr.Validationf("End time must be after start time (%s-%s)", start, end)
		}
		if date == today && start <= nowHHMM {
			return nil, apperr.Validationf("Slot %s-%s has already started", start, end)
		}
		slots = append(slots, &TimeSlot{DoctorID: doc.ID, Date: date, StartTime: start, EndTime: end})
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })
	for i := 1; i < len(slots); i++ {
		if overlaps(slots[i-1].StartTime, slots[i-1].EndTime, slots[i].StartTime, slots[i].EndTime) {
			return nil, apperr.Validationf("Time slots %s-%s and %s-%s overlap",
				slots[i-1].StartTime, slots[i-1].EndTime, slots[i].StartTime, slots[i].EndTime)
		}
	}

	existing, err := s.slots.ListForDate(ctx, doc.ID, date)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	for _, n := range slots {
		for _, e := range existing {
			if overlaps(n.StartTime, n.EndTime, e.StartTime, e.EndTime) {
				return nil, apperr.Conflictf("Slot %s-%s overlaps an existing slot %s-%s",
					n.StartTime, n.EndTime, e.StartTime, e.EndTime)
			}
		}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.slots.CreateMany(ctx, slots)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("A slot with that start time already exists")
		}
		return nil, apperr.Internal(err)
	}

	s.activity.Record(ctx, doctorUserID, activity.ActionAvailabilityUpdated,
		fmt.Sprintf("Added %d slot(s) on %s", len(slots), date))
	return slots, nil
}

func (s *Service) SetFees(ctx context.Context, doctorUserID uuid.UUID, consultation, followUp float64) (*Fees, error) {
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.SetFees(ctx, doc.ID, consultation, followUp); err != nil {
		return nil, err
	}
	s.activity.Record(ctx, doctorUserID, activity.ActionFeesUpdated,
		fmt.Sprintf("Consultation fee %.2f, follow-up fee %.2f", consultation, followUp))
	return &Fees{DoctorID: doc.ID, ConsultationFee: consultation, FollowUpFee: followUp}, nil
}

// OwnSlots lists the signed-in doctor's upcoming slots, booked or not.
func (s *Service) OwnSlots(ctx context.Context, doctorUserID uuid.UUID) ([]*TimeSlot, error) {
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, err
	}
	today, nowHHMM := s.clock()
	items, err := s.slots.ListFrom(ctx, doc.ID, today, nowHHMM, false)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func (s *Service) OwnFees(ctx context.Context, doctorUserID uuid.UUID) (*Fees, error) {
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, err
	}
	return &Fees{DoctorID: doc.ID, ConsultationFee: doc.ConsultationFee, FollowUpFee: doc.FollowUpFee}, nil
}

func (s *Service) Stats(ctx context.Context, doctorUserID uuid.UUID) (*Stats, error) {
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, err
	}
	st, err := s.appointments.Stats(ctx, doc.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	today, _ := s.clock()
	if st.UpcomingSlots, err = s.slots.CountUpcoming(ctx, doc.ID, today); err != nil {
		return nil, apperr.Internal(err)
	}
	return st, nil
}

// DoctorAvailability lists a doctor's unbooked future slots, optionally on
// one date.
func (s *Service) DoctorAvailability(ctx context.Context, doctorID uuid.UUID, date string) ([]*TimeSlot, error) {
	if _, err := s.profiles.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if date != "" {
		if _, err := time.Parse(dateLayout, date); err != nil {
			return nil, apperr.Validation("date must be in YYYY-MM-DD format")
		}
	}
	today, nowHHMM := s.clock()
	items, err := s.slots.ListFrom(ctx, doctorID, today, nowHHMM, true)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if date == "" {
		return items, nil
	}
	out := items[:0]
	for _, sl := range items {
		if sl.Date == date {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *Service) DoctorFees(ctx context.Context, doctorID uuid.UUID) (*Fees, error) {
	doc, err := s.profiles.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return &Fees{DoctorID: doc.ID, ConsultationFee: doc.ConsultationFee, FollowUpFee: doc.FollowUpFee}, nil
}

// -- Booking --

// Book claims a free slot for the signed-in patient, creates the
// appointment and its pending payment.
func (s *Service) Book(ctx context.Context, patientUserID, slotID uuid.UUID, reason string) (*Appointment, error) {
	patient, err := s.profiles.PatientByUser(ctx, patientUserID)
	if err != nil {
		return nil, err
	}
	slot, err := s.slots.GetByID(ctx, slotID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Time slot not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if slot.IsBooked {
		return nil, apperr.Conflict("Time slot is already booked")
	}
	today, nowHHMM := s.clock()
	if slot.Date < today || (slot.Date == today && slot.StartTime <= nowHHMM) {
		return nil, apperr.Validation("Cannot book a time slot in the past")
	}

	doc, err := s.profiles.GetDoctor(ctx, slot.DoctorID)
	if err != nil {
		return nil, err
	}
	if doc.Status != identity.DoctorActive || doc.KYCStatus != account.KYCApproved {
		return nil, apperr.Validation("Doctor is not accepting appointments")
	}

	appt := &Appointment{
		BookingNumber: s.numbers.Next(),
		PatientID:     patient.ID,
		DoctorID:      doc.ID,
		TimeSlotID:    slot.ID,
		Status:        StatusBooked,
		Date:          slot.Date,
		StartTime:     slot.StartTime,
		EndTime:       slot.EndTime,
		DoctorName:    doc.Name,
		Speciality:    doc.Speciality,
		PatientName:   patient.Name,
		DoctorUserID:  doc.UserID,
		PatientUserID: patient.UserID,
	}
	if r := strings.TrimSpace(reason); r != "" {
		appt.Reason = &r
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.Claim(ctx, slot.ID); err != nil {
			return err
		}
		if err := s.appointments.Create(ctx, appt); err != nil {
			return err
		}
		return s.payments.CreatePending(ctx, appt.ID, doc.ConsultationFee)
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Conflict("Time slot is already booked")
		}
		return nil, apperr.Internal(err)
	}

	s.activity.Record(ctx, patientUserID, activity.ActionAppointmentBooked,
		fmt.Sprintf("Booked %s with Dr. %s on %s %s", appt.BookingNumber, doc.Name, slot.Date, slot.StartTime))
	s.notifier.Notify(ctx, doc.UserID,
		fmt.Sprintf("New appointment %s booked by %s on %s at %s", appt.BookingNumber, patient.Name, slot.Date, slot.StartTime),
		inbox.TypeAppointment)
	return appt, nil
}

// -- Listings --

func (s *Service) PatientAppointments(ctx context.Context, patientUserID uuid.UUID, status string, limit, offset int) ([]*Appointment, int, error) {
	if status != "" && !validAppointmentStatuses[status] {
		return nil, 0, apperr.Validationf("invalid status: %s", status)
	}
	patient, err := s.profiles.PatientByUser(ctx, patientUserID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.appointments.List(ctx, AppointmentFilter{
		PatientID: &patient.ID, Status: status, Limit: limit, Offset: offset,
	})
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) DoctorAppointments(ctx context.Context, doctorUserID uuid.UUID, status string, limit, offset int) ([]*Appointment, int, error) {
	if status != "" && !validAppointmentStatuses[status] {
		return nil, 0, apperr.Validationf("invalid status: %s", status)
	}
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.appointments.List(ctx, AppointmentFilter{
		DoctorID: &doc.ID, Status: status, Limit: limit, Offset: offset,
	})
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// DoctorSchedule returns the doctor's live appointments on date (today when
// empty) ordered by start time.
func (s *Service) DoctorSchedule(ctx context.Context, doctorUserID uuid.UUID, date string) ([]*Appointment, error) {
	if date == "" {
		date, _ = s.clock()
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, apperr.Validation("date must be in YYYY-MM-DD format")
	}
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, err
	}
	items, err := s.appointments.Schedule(ctx, doc.ID, date)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

// -- Lifecycle --

// Appointment loads an appointment by id.
func (s *Service) Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Appointment not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return a, nil
}

// DoctorAppointment loads an appointment that belongs to the signed-in
// doctor.
func (s *Service) DoctorAppointment(ctx context.Context, doctorUserID, id uuid.UUID) (*Appointment, error) {
	a, err := s.Appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DoctorUserID != doctorUserID {
		return nil, apperr.Forbidden("You can only manage your own appointments")
	}
	return a, nil
}

// MarkCompleted moves a booked appointment to completed. Completed
// appointments are left as they are. It joins any transaction on ctx.
func (s *Service) MarkCompleted(ctx context.Context, a *Appointment) error {
	switch a.Status {
	case StatusCompleted:
		return nil
	case StatusCancelled:
		return apperr.Validation("Cannot complete a cancelled appointment")
	}
	if err := s.appointments.Transition(ctx, a.ID, StatusBooked, StatusCompleted, nil); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.Conflict("Appointment status changed, please retry")
		}
		return apperr.Internal(err)
	}
	a.Status = StatusCompleted
	return nil
}

func (s *Service) Complete(ctx context.Context, doctorUserID, id uuid.UUID) (*Appointment, error) {
	a, err := s.DoctorAppointment(ctx, doctorUserID, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusBooked {
		return nil, apperr.Validationf("Only booked appointments can be completed (status is %s)", a.Status)
	}
	if err := s.MarkCompleted(ctx, a); err != nil {
		return nil, err
	}
	s.activity.Record(ctx, doctorUserID, activity.ActionAppointmentCompleted,
		fmt.Sprintf("Completed appointment %s", a.BookingNumber))
	return a, nil
}

// Cancel cancels a booked appointment on behalf of its patient or doctor,
// releases the slot and flags a settled payment for refund.
func (s *Service) Cancel(ctx context.Context, who auth.Identity, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.Appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case who.Role == auth.RolePatient && who.UserID == a.PatientUserID:
	case who.Role == auth.RoleDoctor && who.UserID == a.DoctorUserID:
	default:
		return nil, apperr.Forbidden("You are not allowed to cancel this appointment")
	}
	if a.Status != StatusBooked {
		return nil, apperr.Validationf("Only booked appointments can be cancelled (status is %s)", a.Status)
	}

	var cancelReason *string
	if r := strings.TrimSpace(reason); r != "" {
		cancelReason = &r
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.Transition(ctx, a.ID, StatusBooked, StatusCancelled, cancelReason); err != nil {
			return err
		}
		if err := s.slots.Release(ctx, a.TimeSlotID); err != nil {
			return err
		}
		return s.payments.MarkRefundPending(ctx, a.ID)
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Conflict("Appointment status changed, please retry")
		}
		return nil, apperr.Internal(err)
	}
	a.Status = StatusCancelled
	a.CancelReason = cancelReason
	if a.Payment != nil && a.Payment.Status == "completed" {
		a.Payment.Status = "refund_pending"
	}

	s.activity.Record(ctx, who.UserID, activity.ActionAppointmentCancelled,
		fmt.Sprintf("Cancelled appointment %s", a.BookingNumber))
	msg := fmt.Sprintf("Appointment %s on %s at %s was cancelled", a.BookingNumber, a.Date, a.StartTime)
	if cancelReason != nil {
		msg += ": " + *cancelReason
	}
	s.notifier.Notify(ctx, a.Counterpart(who.UserID), msg, inbox.TypeAppointment)
	return a, nil
}

// -- Consultation notes --

func (s *Service) SaveNotes(ctx context.Context, doctorUserID, id uuid.UUID, notes string) error {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return apperr.Validation("Notes are required")
	}
	a, err := s.DoctorAppointment(ctx, doctorUserID, id)
	if err != nil {
		return err
	}
	sealed, err := s.cipher.Encrypt(notes)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.appointments.SetNotes(ctx, a.ID, sealed); err != nil {
		return apperr.Internal(err)
	}
	s.activity.Record(ctx, doctorUserID, activity.ActionConsultationUpdated,
		fmt.Sprintf("Updated consultation notes for %s", a.BookingNumber))
	return nil
}

func (s *Service) Notes(ctx context.Context, doctorUserID, id uuid.UUID) (string, error) {
	a, err := s.DoctorAppointment(ctx, doctorUserID, id)
	if err != nil {
		return "", err
	}
	sealed, err := s.appointments.Notes(ctx, a.ID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if sealed == "" {
		return "", apperr.NotFound("No consultation notes found")
	}
	return hipaa.Reveal(s.cipher, sealed, s.logger.With().Str("appointment_id", a.ID.String()).Logger()), nil
}
