// Package billing owns appointment payments: the pending charge created at
// booking, local processing, admin refunds and revenue reporting.
package billing

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending       = "pending"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
	StatusRefunded      = "refunded"
	StatusRefundPending = "refund_pending"
)

var validStatuses = map[string]bool{
	StatusPending: true, StatusCompleted: true, StatusFailed: true,
	StatusRefunded: true, StatusRefundPending: true,
}

// Payment methods accepted by Process. There is no gateway behind any of
// them; the charge is settled locally.
var validMethods = map[string]bool{
	"khalti": true, "esewa": true, "card": true, "cash": true, "bank_transfer": true,
}

const (
	defaultRefundReason = "Administrative refund"
	dateLayout          = "2006-01-02"
)

type Payment struct {
	ID            uuid.UUID        `json:"id"`
	AppointmentID uuid.UUID        `json:"appointment_id"`
	Amount        float64          `json:"amount"`
	Status        string           `json:"status"`
	PaymentMethod *string          `json:"payment_method,omitempty"`
	TransactionID *string          `json:"transaction_id,omitempty"`
	RefundAmount  *float64         `json:"refund_amount,omitempty"`
	RefundReason  *string          `json:"refund_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Appointment   *AppointmentInfo `json:"appointment,omitempty"`
}

// AppointmentInfo is the appointment a payment settles, with both parties.
type AppointmentInfo struct {
	ID            uuid.UUID `json:"id"`
	BookingNumber string    `json:"booking_number"`
	Status        string    `json:"status"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	PatientID     uuid.UUID `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	PatientEmail  string    `json:"patient_email"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	DoctorName    string    `json:"doctor_name"`
	DoctorEmail   string    `json:"doctor_email"`
	Speciality    string    `json:"speciality"`

	PatientUserID uuid.UUID `json:"-"`
	DoctorUserID  uuid.UUID `json:"-"`
}

// Filter narrows the admin payment listing. From and To bound created_at
// inclusively.
type Filter struct {
	From      *time.Time
	To        *time.Time
	Status    string
	Method    string
	MinAmount *float64
	MaxAmount *float64
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

var sortColumns = map[string]string{
	"created_at": "p.created_at",
	"amount":     "p.amount",
}

type Summary struct {
	TotalAmount  float64 `json:"totalAmount"`
	TotalRefunds float64 `json:"totalRefunds"`
	NetRevenue   float64 `json:"netRevenue"`
	Count        int     `json:"count"`
}

type FilterOptions struct {
	PaymentMethods []string `json:"paymentMethods"`
	Statuses       []string `json:"statuses"`
}

// ReportRow is one payment as seen by the revenue report.
type ReportRow struct {
	CreatedAt    time.Time
	Amount       float64
	RefundAmount float64
	Speciality   string
}

const (
	GroupByDay   = "day"
	GroupByMonth = "month"
	GroupByYear  = "year"
)

var groupLayouts = map[string]string{
	GroupByDay:   "2006-01-02",
	GroupByMonth: "2006-01",
	GroupByYear:  "2006",
}

type SpecialityTotal struct {
	Speciality string  `json:"speciality"`
	Amount     float64 `json:"amount"`
	Count      int     `json:"count"`
}

type Period struct {
	Date         string            `json:"date"`
	TotalAmount  float64           `json:"totalAmount"`
	Count        int               `json:"count"`
	RefundAmount float64           `json:"refundAmount"`
	NetAmount    float64           `json:"netAmount"`
	BySpeciality []SpecialityTotal `json:"bySpeciality"`
}

type ReportSummary struct {
	TotalPayments int       `json:"totalPayments"`
	TotalAmount   float64   `json:"totalAmount"`
	TotalRefunds  float64   `json:"totalRefunds"`
	NetRevenue    float64   `json:"netRevenue"`
	DateRange     DateRange `json:"dateRange"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Report struct {
	Periods []Period      `json:"report"`
	Summary ReportSummary `json:"summary"`
}
