package models

import "time"

// SubmissionStatus tracks the lifecycle of a student's work.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "PENDING"
	SubmissionSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionGraded    SubmissionStatus = "GRADED"
)

// CanTransitionTo reports whether the status may advance to next.
// Transitions are forward-only; GRADED is terminal. SUBMITTED permits a
// self-loop so a resubmission replaces the file without regressing state.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	switch s {
	case SubmissionPending:
		return next == SubmissionSubmitted
	case SubmissionSubmitted:
		return next == SubmissionSubmitted || next == SubmissionGraded
	default:
		return false
	}
}

// Submission is the single record of a student's work on an assignment.
// At most one row exists per (assignment_id, student_id) pair.
type Submission struct {
	ID           string           `db:"id" json:"id"`
	AssignmentID string           `db:"assignment_id" json:"assignment_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	FileRef      string           `db:"file_ref" json:"-"`
	FileName     string           `db:"file_name" json:"file_name"`
	Title        string           `db:"title" json:"title"`
	Comments     string           `db:"comments" json:"comments"`
	Status       SubmissionStatus `db:"status" json:"status"`
	Grade        *float64         `db:"grade" json:"grade,omitempty"`
	Feedback     *string          `db:"feedback" json:"feedback,omitempty"`
	GradedBy     *string          `db:"graded_by" json:"graded_by,omitempty"`
	GradedAt     *time.Time       `db:"graded_at" json:"graded_at,omitempty"`
	SubmittedAt  time.Time        `db:"submitted_at" json:"submitted_at"`
}

// SubmissionDetail joins a submission with its assignment metadata for
// course-scoped listings and reports.
type SubmissionDetail struct {
	Submission
	Course          string  `db:"course" json:"course"`
	AssignmentTitle string  `db:"assignment_title" json:"assignment_title"`
	MaxPoints       float64 `db:"max_points" json:"max_points"`
}
