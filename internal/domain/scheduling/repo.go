package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type SlotRepository interface {
	CreateMany(ctx context.Context, slots []*TimeSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// ListForDate returns every slot of the doctor on date.
	ListForDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*TimeSlot, error)
	// ListFrom returns the doctor's slots starting after (today, nowHHMM),
	// optionally only unbooked ones, ordered by date and start time.
	ListFrom(ctx context.Context, doctorID uuid.UUID, today, nowHHMM string, freeOnly bool) ([]*TimeSlot, error)
	// Claim marks a free slot booked. It returns db.ErrNotFound when the slot
	// is already booked.
	Claim(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
	CountUpcoming(ctx context.Context, doctorID uuid.UUID, today string) (int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
	Schedule(ctx context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error)
	// Transition moves an appointment from one status to another. It returns
	// db.ErrNotFound when the appointment is not in status from.
	Transition(ctx context.Context, id uuid.UUID, from, to string, cancelReason *string) error
	SetNotes(ctx context.Context, id uuid.UUID, sealed string) error
	// Notes returns the stored (sealed) notes, or "" when there are none.
	Notes(ctx context.Context, id uuid.UUID) (string, error)
	Stats(ctx context.Context, doctorID uuid.UUID) (*Stats, error)
}
