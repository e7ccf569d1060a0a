// Package identity owns the Doctor and Patient profiles that hang off user
// accounts, the public doctor directory and the admin views over both.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/account"
	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/notification"
)

type Mailer interface {
	Send(ctx context.Context, to, templateID string, data map[string]string) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	doctors  DoctorRepository
	patients PatientRepository
	tx       db.Transactor
	mailer   Mailer
	activity ActivityRecorder
	logger   zerolog.Logger
}

func NewService(doctors DoctorRepository, patients PatientRepository, tx db.Transactor,
	mailer Mailer, rec ActivityRecorder, logger zerolog.Logger) *Service {
	return &Service{
		doctors:  doctors,
		patients: patients,
		tx:       tx,
		mailer:   mailer,
		activity: rec,
		logger:   logger,
	}
}

var _ account.ProfileStore = (*Service)(nil)

// -- Profile store for account --

func (s *Service) CreateDoctor(ctx context.Context, userID uuid.UUID, in account.DoctorSignup) error {
	d := &Doctor{
		UserID:                   userID,
		NMCNumber:                in.NMCNumber,
		Speciality:               in.Speciality,
		EducationalQualification: in.EducationalQualification,
		Status:                   DoctorActive,
	}
	if in.CVURL != "" {
		cv := in.CVURL
		d.CVURL = &cv
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) CreatePatient(ctx context.Context, userID uuid.UUID) error {
	return s.patients.Create(ctx, &Patient{UserID: userID})
}

func (s *Service) DoctorIDForUser(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error) {
	d, err := s.doctors.GetByUserID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d.ID, nil
}

func (s *Service) RoleProfile(ctx context.Context, userID uuid.UUID, role string) (interface{}, error) {
	switch role {
	case auth.RoleDoctor:
		d, err := s.doctors.GetByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return d, nil
	case auth.RolePatient:
		p, err := s.patients.GetByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, nil
}

// -- Lookups used by other domains --

// DoctorByUser returns the doctor profile of a signed-in doctor.
func (s *Service) DoctorByUser(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByUserID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Doctor profile not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return d, nil
}

// PatientByUser returns the patient profile of a signed-in patient.
func (s *Service) PatientByUser(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByUserID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Patient profile not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Doctor not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return d, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

// SetFees stores a doctor's consultation and follow-up fees.
func (s *Service) SetFees(ctx context.Context, doctorID uuid.UUID, consultation, followUp float64) error {
	if consultation < 0 || followUp < 0 {
		return apperr.Validation("Fees must be non-negative numbers")
	}
	if err := s.doctors.UpdateFees(ctx, doctorID, consultation, followUp); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("Doctor not found")
		}
		return apperr.Internal(err)
	}
	return nil
}

// -- Directory --

// ListBookableDoctors is the public directory: active doctors whose KYC
// has been approved.
func (s *Service) ListBookableDoctors(ctx context.Context, speciality string, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, DoctorFilter{
		Speciality: strings.TrimSpace(speciality), Bookable: true, Limit: limit, Offset: offset,
	})
}

// -- Admin --

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	if f.Status != "" && !ValidDoctorStatus(f.Status) {
		return nil, 0, apperr.Validationf("status must be one of: %s, %s, %s", DoctorActive, DoctorInactive, DoctorSuspended)
	}
	return s.doctors.List(ctx, f)
}

func (s *Service) UpdateDoctorStatus(ctx context.Context, adminID, doctorID uuid.UUID, status string) (*Doctor, error) {
	if !ValidDoctorStatus(status) {
		return nil, apperr.Validationf("status must be one of: %s, %s, %s", DoctorActive, DoctorInactive, DoctorSuspended)
	}
	if err := s.doctors.UpdateStatus(ctx, doctorID, status); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("Doctor not found")
		}
		return nil, apperr.Internal(err)
	}
	d, err := s.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	s.activity.Record(ctx, adminID, activity.ActionDoctorStatusUpdated,
		fmt.Sprintf("Doctor %s status set to %s", d.Email, status))
	return d, nil
}

func (s *Service) ListPatients(ctx context.Context, f PatientFilter) ([]*Patient, int, error) {
	return s.patients.List(ctx, f)
}

func (s *Service) UpdatePatient(ctx context.Context, adminID, patientID uuid.UUID, in PatientUpdate) (*Patient, error) {
	p, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		p.Name = name
	}
	if in.Phone != nil {
		p.Phone = in.Phone
	}
	if in.Address != nil {
		p.Address = in.Address
	}
	if in.DateOfBirth != nil {
		p.DateOfBirth = in.DateOfBirth
	}
	if in.Gender != nil {
		p.Gender = in.Gender
	}
	if in.BloodGroup != nil {
		p.BloodGroup = in.BloodGroup
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.patients.Update(ctx, p)
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("Patient not found")
		}
		return nil, apperr.Internal(err)
	}
	s.activity.Record(ctx, adminID, activity.ActionPatientUpdated, fmt.Sprintf("Patient %s updated", p.Email))
	return p, nil
}

func (s *Service) DeletePatient(ctx context.Context, adminID, patientID uuid.UUID) error {
	p, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if err := s.patients.Delete(ctx, patientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("Patient not found")
		}
		return apperr.Internal(err)
	}
	s.activity.Record(ctx, adminID, activity.ActionPatientDeleted, fmt.Sprintf("Patient %s deleted", p.Email))
	return nil
}

// EmailPatient sends an admin-authored message to a patient's address.
func (s *Service) EmailPatient(ctx context.Context, adminID, patientID uuid.UUID, subject, message string) error {
	p, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	return s.sendAdminEmail(ctx, adminID, p.Email, p.Name, subject, message)
}

func (s *Service) EmailDoctor(ctx context.Context, adminID, doctorID uuid.UUID, subject, message string) error {
	d, err := s.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}
	return s.sendAdminEmail(ctx, adminID, d.Email, d.Name, subject, message)
}

func (s *Service) sendAdminEmail(ctx context.Context, adminID uuid.UUID, to, name, subject, message string) error {
	subject, message = strings.TrimSpace(subject), strings.TrimSpace(message)
	if subject == "" || message == "" {
		return apperr.Validation("Subject and message are required")
	}
	if err := s.mailer.Send(ctx, to, notification.TemplateAdminMessage, map[string]string{
		"subject": subject,
		"name":    name,
		"message": message,
	}); err != nil {
		return apperr.Internal(fmt.Errorf("send admin email: %w", err))
	}
	s.activity.Record(ctx, adminID, activity.ActionAdminEmailSent, fmt.Sprintf("Email sent to %s: %s", to, subject))
	return nil
}
