package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/domain/identity"
	"github.com/bspoke/health/internal/domain/inbox"
	"github.com/bspoke/health/internal/domain/scheduling"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/db"
)

// Appointments is the slice of the scheduling service prescriptions need.
type Appointments interface {
	Appointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	DoctorAppointment(ctx context.Context, doctorUserID, id uuid.UUID) (*scheduling.Appointment, error)
	MarkCompleted(ctx context.Context, a *scheduling.Appointment) error
}

type Profiles interface {
	DoctorByUser(ctx context.Context, userID uuid.UUID) (*identity.Doctor, error)
	PatientByUser(ctx context.Context, userID uuid.UUID) (*identity.Patient, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message, kind string)
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	repo         Repository
	appointments Appointments
	profiles     Profiles
	tx           db.Transactor
	notifier     Notifier
	activity     ActivityRecorder
	logger       zerolog.Logger
}

func NewService(repo Repository, appts Appointments, profiles Profiles, tx db.Transactor,
	notifier Notifier, rec ActivityRecorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		appointments: appts,
		profiles:     profiles,
		tx:           tx,
		notifier:     notifier,
		activity:     rec,
		logger:       logger,
	}
}

func parseFollowUp(v string) (*string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		d := t.Format(dateLayout)
		return &d, nil
	}
	if _, err := time.Parse(dateLayout, v); err != nil {
		return nil, apperr.Validation("Invalid follow-up date format")
	}
	return &v, nil
}

// Write issues or rewrites the prescription for one of the doctor's
// appointments. The appointment is completed and the medication list
// replaced in the same transaction. The bool reports a fresh prescription.
func (s *Service) Write(ctx context.Context, doctorUserID, appointmentID uuid.UUID, in Input) (*Prescription, bool, error) {
	diagnosis := strings.TrimSpace(in.Diagnosis)
	if diagnosis == "" {
		return nil, false, apperr.Validation("Diagnosis is required")
	}
	followUp, err := parseFollowUp(in.FollowUpDate)
	if err != nil {
		return nil, false, err
	}

	appt, err := s.appointments.DoctorAppointment(ctx, doctorUserID, appointmentID)
	if err != nil {
		return nil, false, err
	}

	p := &Prescription{
		AppointmentID:   appt.ID,
		AppointmentDate: appt.Date,
		Doctor:          Party{ID: appt.DoctorID, Name: appt.DoctorName},
		Patient:         Party{ID: appt.PatientID, Name: appt.PatientName},
		Diagnosis:       diagnosis,
		FollowUp:        FollowUp{Needed: in.FollowUpNeeded, Date: followUp},
	}
	if notes := strings.TrimSpace(in.DoctorNotes); notes != "" {
		p.DoctorNotes = &notes
	}

	meds := make([]Medication, 0, len(in.Medications))
	for _, m := range in.Medications {
		m = MedicationInput{
			Name:         strings.TrimSpace(m.Name),
			Dosage:       strings.TrimSpace(m.Dosage),
			Frequency:    strings.TrimSpace(m.Frequency),
			Duration:     strings.TrimSpace(m.Duration),
			Instructions: strings.TrimSpace(m.Instructions),
		}
		if !m.complete() {
			continue
		}
		meds = append(meds, Medication{
			Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency,
			Duration: m.Duration, Instructions: m.Instructions,
		})
	}

	var created bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.MarkCompleted(ctx, appt); err != nil {
			return err
		}
		var err error
		if created, err = s.repo.Upsert(ctx, p); err != nil {
			return err
		}
		return s.repo.ReplaceMedications(ctx, p.ID, meds)
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, false, err
		}
		return nil, false, apperr.Internal(err)
	}
	p.Medications = meds
	p.MedicationCount = len(meds)

	verb := "updated"
	if created {
		verb = "issued"
	}
	s.activity.Record(ctx, doctorUserID, activity.ActionPrescriptionWritten,
		fmt.Sprintf("Prescription %s for %s (%d medication(s))", verb, appt.BookingNumber, len(meds)))
	s.notifier.Notify(ctx, appt.PatientUserID,
		fmt.Sprintf("Dr. %s has %s a prescription for your appointment on %s.", appt.DoctorName, verb, appt.Date),
		inbox.TypePrescription)
	return p, created, nil
}

// ForAppointment returns the prescription to either participant of the
// appointment.
func (s *Service) ForAppointment(ctx context.Context, userID, appointmentID uuid.UUID) (*Prescription, error) {
	appt, err := s.appointments.Appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.Participant(userID) {
		return nil, apperr.Forbidden("You are not authorized to view this prescription")
	}
	p, err := s.repo.GetByAppointment(ctx, appointmentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("No prescription found for this appointment")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

func (s *Service) DoctorPrescriptions(ctx context.Context, doctorUserID uuid.UUID, patientID *uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	doc, err := s.profiles.DoctorByUser(ctx, doctorUserID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.List(ctx, Filter{DoctorID: &doc.ID, PatientID: patientID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) PatientPrescriptions(ctx context.Context, patientUserID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	patient, err := s.profiles.PatientByUser(ctx, patientUserID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.List(ctx, Filter{PatientID: &patient.ID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}
