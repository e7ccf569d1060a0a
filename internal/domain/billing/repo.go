package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Complete settles a pending payment. It returns db.ErrNotFound when the
	// payment is missing or no longer pending.
	Complete(ctx context.Context, id uuid.UUID, method, transactionID string) error
	// Refund moves a completed payment to refunded, with the same
	// db.ErrNotFound contract as Complete.
	Refund(ctx context.Context, id uuid.UUID, amount float64, reason string) error
	// MarkRefundPending flags the appointment's payment when it is completed
	// and is a no-op otherwise.
	MarkRefundPending(ctx context.Context, appointmentID uuid.UUID) error
	List(ctx context.Context, f Filter) ([]*Payment, int, error)
	Summary(ctx context.Context, f Filter) (*Summary, error)
	FilterOptions(ctx context.Context) (*FilterOptions, error)
	ReportRows(ctx context.Context, from, to time.Time) ([]ReportRow, error)
}
