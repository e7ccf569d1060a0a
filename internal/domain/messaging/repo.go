package messaging

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores messages with their bodies already sealed.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	// List returns the appointment's messages oldest first.
	List(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
