// Package prescription owns the prescriptions doctors issue at the end of a
// consultation and the medications listed on them.
package prescription

import (
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type Medication struct {
	ID             uuid.UUID `json:"id"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
	Name           string    `json:"name"`
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	Duration       string    `json:"duration"`
	Instructions   string    `json:"instructions"`
}

// Party names one side of the appointment a prescription belongs to.
type Party struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type FollowUp struct {
	Needed bool    `json:"needed"`
	Date   *string `json:"date"`
}

type Prescription struct {
	ID              uuid.UUID    `json:"id"`
	AppointmentID   uuid.UUID    `json:"appointment_id"`
	AppointmentDate string       `json:"appointment_date"`
	Doctor          Party        `json:"doctor"`
	Patient         Party        `json:"patient"`
	Diagnosis       string       `json:"diagnosis"`
	DoctorNotes     *string      `json:"doctor_notes"`
	FollowUp        FollowUp     `json:"follow_up"`
	Medications     []Medication `json:"medications,omitempty"`
	MedicationCount int          `json:"medication_count"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type MedicationInput struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

// complete reports whether every required field is filled in.
func (m MedicationInput) complete() bool {
	for _, v := range []string{m.Name, m.Dosage, m.Frequency, m.Duration} {
		if v == "" {
			return false
		}
	}
	return true
}

type Input struct {
	Diagnosis      string
	DoctorNotes    string
	FollowUpNeeded bool
	FollowUpDate   string
	Medications    []MedicationInput
}

type Filter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Limit     int
	Offset    int
}
