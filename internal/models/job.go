package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned by store lookups for an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a transition targets a job already
	// in a terminal status. Terminal states are final.
	ErrJobTerminal = errors.New("job already in a terminal status")
)

type StatusKind string

const (
	StatusPending        StatusKind = "pending"
	StatusRunning        StatusKind = "running"
	StatusCompleted      StatusKind = "completed"
	StatusPartialFailure StatusKind = "partial_failure"
	StatusFailed         StatusKind = "failed"
	StatusError          StatusKind = "error"
)

// ErrorReason qualifies StatusError. Empty for every other kind.
type ErrorReason string

const (
	ReasonNone              ErrorReason = ""
	ReasonNoValidRecipients ErrorReason = "no_valid_recipients"
	ReasonResolutionFailed  ErrorReason = "resolution_failed"
	ReasonTemplateInvalid   ErrorReason = "template_invalid"
	ReasonConnectFailed     ErrorReason = "connect_failed"
	ReasonTransportAborted  ErrorReason = "transport_aborted"
	ReasonCancelled         ErrorReason = "cancelled"
)

// Status is a tagged variant: kind plus an error reason payload, never a
// free-form string.
type Status struct {
	Kind   StatusKind  `json:"kind"`
	Reason ErrorReason `json:"reason,omitempty"`
}

func Pending() Status   { return Status{Kind: StatusPending} }
func Running() Status   { return Status{Kind: StatusRunning} }
func Completed() Status { return Status{Kind: StatusCompleted} }

func PartialFailure() Status { return Status{Kind: StatusPartialFailure} }
func Failed() Status         { return Status{Kind: StatusFailed} }

func Errored(reason ErrorReason) Status {
	return Status{Kind: StatusError, Reason: reason}
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s.Kind {
	case StatusCompleted, StatusPartialFailure, StatusFailed, StatusError:
		return true
	}
	return false
}

func (s Status) String() string {
	if s.Kind == StatusError && s.Reason != ReasonNone {
		return string(s.Kind) + ": " + string(s.Reason)
	}
	return string(s.Kind)
}

// Job is one bulk-send request from submission to terminal status.
type Job struct {
	ID               uuid.UUID `json:"id"`
	Subject          string    `json:"subject"`
	CSVFilename      string    `json:"csv_filename"`
	TemplateFilename string    `json:"template_filename"`

	Status Status `json:"status"`

	// TotalCount is nil until recipient resolution completes.
	TotalCount  *int `json:"total_count"`
	SentCount   int  `json:"sent_count"`
	FailedCount int  `json:"failed_count"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// FailureEntry records exactly one unsuccessful send. Append-only.
type FailureEntry struct {
	ID             int64     `json:"id"`
	JobID          uuid.UUID `json:"job_id"`
	RecipientEmail string    `json:"recipient_email"`
	ErrorMessage   string    `json:"error_message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Recipient is one validated (name, email) pair from the uploaded CSV.
// It lives only for the duration of a job run and is never persisted.
type Recipient struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
}

// Message is one personalized email ready for transport.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}
