package verification

import (
	"errors"
	"time"

	"attendgate/internal/geo"
)

// Status of a verification request. Terminal states never transition again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

var (
	// ErrNotFound means no request with that id exists.
	ErrNotFound = errors.New("verification request not found")
	// ErrInvalidTransition means the request is no longer pending.
	ErrInvalidTransition = errors.New("invalid transition: request is not pending")
)

// Request is one student's attendance-capture submission awaiting teacher
// disposition. CapturedImage is immutable after creation; only Status (and the
// decision metadata) changes, and at most once.
type Request struct {
	ID            string       `json:"id"`
	StudentID     string       `json:"student_id"`
	StudentName   string       `json:"student_name"`
	ClassID       string       `json:"class_id"`
	CapturedImage string       `json:"captured_image"`
	Location      geo.Position `json:"location"`
	SubmittedAt   int64        `json:"submitted_at"`
	Status        Status       `json:"status"`
	DecidedBy     string       `json:"decided_by,omitempty"`
	DecidedAt     *time.Time   `json:"decided_at,omitempty"`
}
