package inbox

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeGeneral      = "general"
	TypeKYC          = "kyc"
	TypeAppointment  = "appointment"
	TypePrescription = "prescription"
	TypePayment      = "payment"
	TypeMessage      = "message"
)

// EventNotification is the websocket event type pushed for a new notification.
const EventNotification = "notification.created"

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type Filter struct {
	UserID     uuid.UUID
	UnreadOnly bool
	Limit      int
	Offset     int
}
