package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusBooked    = "booked"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var validAppointmentStatuses = map[string]bool{
	StatusBooked: true, StatusCompleted: true, StatusCancelled: true,
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// TimeSlot is a bookable window on a doctor's calendar. Date is YYYY-MM-DD
// and the times are HH:MM on that date.
type TimeSlot struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	IsBooked  bool      `json:"is_booked"`
	CreatedAt time.Time `json:"created_at"`
}

type SlotInput struct {
	StartTime string
	EndTime   string
}

// PaymentRef is the appointment's payment as shown on appointment listings.
type PaymentRef struct {
	ID     uuid.UUID `json:"id"`
	Amount float64   `json:"amount"`
	Status string    `json:"status"`
}

type Appointment struct {
	ID            uuid.UUID `json:"id"`
	BookingNumber string    `json:"booking_number"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	TimeSlotID    uuid.UUID `json:"time_slot_id"`
	Status        string    `json:"status"`
	Reason        *string   `json:"reason,omitempty"`
	CancelReason  *string   `json:"cancel_reason,omitempty"`
	HasNotes      bool      `json:"has_notes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Joined for display and ownership checks.
	Date          string      `json:"date"`
	StartTime     string      `json:"start_time"`
	EndTime       string      `json:"end_time"`
	DoctorName    string      `json:"doctor_name"`
	Speciality    string      `json:"speciality"`
	PatientName   string      `json:"patient_name"`
	DoctorUserID  uuid.UUID   `json:"-"`
	PatientUserID uuid.UUID   `json:"-"`
	Payment       *PaymentRef `json:"payment,omitempty"`
}

// Participant reports whether userID is the doctor or the patient of a.
func (a *Appointment) Participant(userID uuid.UUID) bool {
	return userID == a.DoctorUserID || userID == a.PatientUserID
}

// Counterpart returns the other participant's user id.
func (a *Appointment) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == a.DoctorUserID {
		return a.PatientUserID
	}
	return a.DoctorUserID
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

// Stats summarises a doctor's practice.
type Stats struct {
	TotalAppointments     int     `json:"total_appointments"`
	BookedAppointments    int     `json:"booked_appointments"`
	CompletedAppointments int     `json:"completed_appointments"`
	CancelledAppointments int     `json:"cancelled_appointments"`
	TotalPatients         int     `json:"total_patients"`
	UpcomingSlots         int     `json:"upcoming_slots"`
	TotalEarnings         float64 `json:"total_earnings"`
}

type Fees struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	ConsultationFee float64   `json:"consultation_fee"`
	FollowUpFee     float64   `json:"follow_up_fee"`
}

// overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// HH:MM strings order lexically.
func overlaps(aStart, aEnd, bStart, bEnd string) bool {
	return aStart < bEnd && bStart < aEnd
}
