package activity

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the services. The set is open; admins filter on the
// raw string.
const (
	ActionSignup               = "signup"
	ActionLogin                = "login"
	ActionLogout               = "logout"
	ActionOTPSent              = "otp_sent"
	ActionOTPVerified          = "otp_verified"
	ActionPasswordResetRequest = "password_reset_requested"
	ActionPasswordChanged      = "password_changed"
	ActionProfileUpdated       = "profile_updated"
	ActionAdminCreated         = "admin_created"
	ActionKYCSubmitted         = "kyc_submitted"
	ActionKYCReviewed          = "kyc_reviewed"
	ActionAppointmentBooked    = "appointment_booked"
	ActionAppointmentCancelled = "appointment_cancelled"
	ActionAppointmentCompleted = "appointment_completed"
	ActionConsultationUpdated  = "updated_consultation"
	ActionAvailabilityUpdated  = "availability_updated"
	ActionFeesUpdated          = "fees_updated"
	ActionPrescriptionWritten  = "prescription_written"
	ActionPaymentCompleted     = "payment_completed"
	ActionPaymentRefunded      = "payment_refunded"
	ActionDoctorStatusUpdated  = "doctor_status_updated"
	ActionPatientUpdated       = "patient_updated"
	ActionPatientDeleted       = "patient_deleted"
	ActionAdminEmailSent       = "admin_email_sent"
)

// Entry is a single write-once activity row.
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"userId"`
	Action    string     `json:"action"`
	Details   string     `json:"details"`
	CreatedAt time.Time  `json:"createdAt"`
	User      *UserRef   `json:"user,omitempty"`
}

// UserRef is the slice of the acting user shown next to a log entry.
type UserRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// Filter narrows an admin listing. Zero values match everything.
type Filter struct {
	UserID *uuid.UUID
	Action string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
