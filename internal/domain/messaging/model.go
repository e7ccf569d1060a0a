// Package messaging carries the chat between a patient and a doctor about
// one appointment. Bodies are sealed at rest and pushed live over the
// websocket hub.
package messaging

import (
	"time"

	"github.com/google/uuid"
)

const (
	maxBodyRunes = 2000

	EventMessageCreated = "message.created"
)

type Message struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	SenderName    string    `json:"sender_name,omitempty"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
}
