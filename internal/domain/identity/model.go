package identity

import (
	"time"

	"github.com/google/uuid"
)

const (
	DoctorActive    = "active"
	DoctorInactive  = "inactive"
	DoctorSuspended = "suspended"
)

// ValidDoctorStatus reports whether s is a status an admin may set.
func ValidDoctorStatus(s string) bool {
	switch s {
	case DoctorActive, DoctorInactive, DoctorSuspended:
		return true
	}
	return false
}

// Doctor is a doctor profile joined with the owning account's public fields.
type Doctor struct {
	ID                       uuid.UUID `json:"id"`
	UserID                   uuid.UUID `json:"userId"`
	NMCNumber                string    `json:"nmc_number"`
	Speciality               string    `json:"speciality"`
	EducationalQualification string    `json:"educational_qualification"`
	CVURL                    *string   `json:"cv_url"`
	Status                   string    `json:"status"`
	ConsultationFee          float64   `json:"consultation_fee"`
	FollowUpFee              float64   `json:"follow_up_fee"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`

	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
	KYCStatus string  `json:"kyc_status"`
}

// Patient is a patient profile joined with the owning account's fields.
type Patient struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Gender      *string    `json:"gender"`
	BloodGroup  *string    `json:"blood_group"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
	Address   *string `json:"address,omitempty"`
	KYCStatus string  `json:"kyc_status"`
}

type DoctorFilter struct {
	Speciality string
	Status     string
	// Bookable limits the result to active doctors with approved KYC.
	Bookable bool
	Search   string
	Limit    int
	Offset   int
}

type PatientFilter struct {
	Search string
	Limit  int
	Offset int
}

// PatientUpdate is an admin edit. Nil fields are left unchanged.
type PatientUpdate struct {
	Name        *string
	Phone       *string
	Address     *string
	DateOfBirth *time.Time
	Gender      *string
	BloodGroup  *string
}
