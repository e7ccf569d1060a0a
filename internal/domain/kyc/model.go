package kyc

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"

	// StatusNotSubmitted is reported for users with no record at all.
	StatusNotSubmitted = "not_submitted"
)

// Record is one identity-verification submission.
type Record struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              uuid.UUID  `json:"user_id"`
	FullName            string     `json:"full_name"`
	DateOfBirth         time.Time  `json:"date_of_birth"`
	CitizenshipNumber   string     `json:"citizenship_number"`
	CitizenshipFrontURL string     `json:"citizenship_front_url"`
	CitizenshipBackURL  string     `json:"citizenship_back_url"`
	Status              string     `json:"status"`
	RejectionReason     *string    `json:"rejection_reason,omitempty"`
	ReviewedBy          *uuid.UUID `json:"reviewed_by,omitempty"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty"`

	// Submitter is filled on review listings.
	Submitter *Submitter `json:"user,omitempty"`
}

type Submitter struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type SubmitInput struct {
	FullName            string
	DateOfBirth         time.Time
	CitizenshipNumber   string
	CitizenshipFrontURL string
	CitizenshipBackURL  string
}

type ReviewInput struct {
	Status          string
	RejectionReason string
}
