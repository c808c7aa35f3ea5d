// Package types defines the core domain model shared by the kw-sourcing packages.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SequenceSpace is the exclusive upper bound of book numbers within one department.
const SequenceSpace = 100_000_000

var (
	// ErrInvalidDepartment is returned for codes not matching [A-Z]{2}\d[A-Z].
	ErrInvalidDepartment = errors.New("invalid department code")
	// ErrInvalidBookID is returned when a rendered identifier cannot be parsed.
	ErrInvalidBookID = errors.New("invalid book identifier")
)

var departmentPattern = regexp.MustCompile(`^[A-Z]{2}\d[A-Z]$`)

// DepartmentCode identifies an administrative record-keeping unit, e.g. "KI1I".
type DepartmentCode string

// Validate reports whether the code is well formed.
func (d DepartmentCode) Validate() error {
	if !departmentPattern.MatchString(string(d)) {
		return fmt.Errorf("%w: %q", ErrInvalidDepartment, string(d))
	}
	return nil
}

// BookID is one candidate land-register identifier.
type BookID struct {
	Department DepartmentCode
	Number     int  // [0, SequenceSpace)
	Control    byte // control digit character
}

// NumberString renders the sequence number as an 8-digit zero-padded string.
func (b BookID) NumberString() string {
	return fmt.Sprintf("%08d", b.Number)
}

// String renders "<dept>/<number:08d>/<control>".
func (b BookID) String() string {
	return fmt.Sprintf("%s/%s/%c", b.Department, b.NumberString(), b.Control)
}

// ParseBookID parses the rendered form produced by BookID.String.
func ParseBookID(s string) (BookID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || len(parts[1]) != 8 || len(parts[2]) != 1 {
		return BookID{}, fmt.Errorf("%w: %q", ErrInvalidBookID, s)
	}
	dept := DepartmentCode(parts[0])
	if err := dept.Validate(); err != nil {
		return BookID{}, fmt.Errorf("%w: %v", ErrInvalidBookID, err)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 {
		return BookID{}, fmt.Errorf("%w: %q", ErrInvalidBookID, s)
	}
	return BookID{Department: dept, Number: n, Control: parts[2][0]}, nil
}

// FailureReason is persisted with every FailureRecord.
type FailureReason string

const (
	ReasonAPIException           FailureReason = "API_EXCEPTION"
	ReasonIncorrectControlNumber FailureReason = "INCORRECT_CONTROL_NUMBER"
	ReasonNotFound               FailureReason = "NOT_FOUND"
)

// OutcomeKind classifies the result of one identifier lookup.
type OutcomeKind string

const (
	OutcomeFound            OutcomeKind = "found"
	OutcomeNotFound         OutcomeKind = "not_found"
	OutcomeSessionFailure   OutcomeKind = "session_failure"
	OutcomeChecksumRejected OutcomeKind = "checksum_rejected"
)

// Reason maps a failing outcome kind to its persisted reason.
// The second return value is false for OutcomeFound.
func (k OutcomeKind) Reason() (FailureReason, bool) {
	switch k {
	case OutcomeNotFound:
		return ReasonNotFound, true
	case OutcomeSessionFailure:
		return ReasonAPIException, true
	case OutcomeChecksumRejected:
		return ReasonIncorrectControlNumber, true
	}
	return "", false
}

// Outcome is the terminal classification of one BookID.
type Outcome struct {
	ID       BookID
	Kind     OutcomeKind
	Metadata map[string]string // only for OutcomeFound
}

// FailureRecord is an append-only record of an identifier that yielded no metadata.
type FailureRecord struct {
	BookID     string        `json:"book_id"`
	Reason     FailureReason `json:"reason"`
	InjectedAt time.Time     `json:"injection_timestamp"`
}

// MetadataRecord is an append-only record of a found book.
type MetadataRecord struct {
	ID         string            `json:"id"`
	Fields     map[string]string `json:"fields"`
	InjectedAt time.Time         `json:"injection_timestamp"`
}

// DepartmentStatus is the lifecycle state of a department within one run.
type DepartmentStatus string

const (
	StatusPending   DepartmentStatus = "pending"   // queued, not yet picked up
	StatusInFlight  DepartmentStatus = "in_flight" // being scanned by a worker
	StatusCompleted DepartmentStatus = "completed" // cursor reached the end of the range
	StatusAbandoned DepartmentStatus = "abandoned" // scan raised, not retried this run
)

// DepartmentProgress tracks one department during a run.
type DepartmentProgress struct {
	Code      DepartmentCode      `json:"code"`
	Status    DepartmentStatus    `json:"status"`
	WorkerID  int                 `json:"worker_id"`
	Cursor    int                 `json:"cursor"` // next sequence number to be scanned
	Counts    map[OutcomeKind]int `json:"counts"`
	Error     string              `json:"error,omitempty"`
	CreatedAt int64               `json:"created_at"` // Unix ms
	UpdatedAt int64               `json:"updated_at"` // Unix ms
}

// ProgressSnapshot is the persisted view of a run's progress.
type ProgressSnapshot struct {
	RunID       string                                 `json:"run_id"`
	Departments map[DepartmentCode]*DepartmentProgress `json:"departments"`
	SchemaVer   int                                    `json:"schema_ver"`
	TakenAt     int64                                  `json:"taken_at"` // Unix ms
}
