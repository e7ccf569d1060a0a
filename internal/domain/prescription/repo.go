package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert writes the prescription for p.AppointmentID, creating it or
	// overwriting the existing one. It reports whether a row was created.
	Upsert(ctx context.Context, p *Prescription) (bool, error)
	ReplaceMedications(ctx context.Context, prescriptionID uuid.UUID, meds []Medication) error
	// GetByAppointment returns the prescription with its medications.
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error)
	// List returns summaries, newest first, with MedicationCount set.
	List(ctx context.Context, f Filter) ([]*Prescription, int, error)
}
