package kyc

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// Latest returns the user's most recent submission or db.ErrNotFound.
	Latest(ctx context.Context, userID uuid.UUID) (*Record, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Record, int, error)
	// Review moves a pending record to status. It returns db.ErrNotFound
	// when the record is not pending anymore.
	Review(ctx context.Context, id uuid.UUID, status string, reason *string, reviewer uuid.UUID, at time.Time) error
	// SetUserStatus mirrors the verification state on the user row.
	SetUserStatus(ctx context.Context, userID uuid.UUID, status string) error
}
