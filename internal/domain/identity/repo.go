package identity

import (
	"context"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateFees(ctx context.Context, id uuid.UUID, consultation, followUp float64) error
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	List(ctx context.Context, f PatientFilter) ([]*Patient, int, error)
	// Update writes the profile columns and the account's name, phone and
	// address.
	Update(ctx context.Context, p *Patient) error
	// Delete removes the patient's account; dependent rows cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}
