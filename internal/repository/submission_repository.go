package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/campushq/portal-api/internal/models"
)

// ErrSubmissionFinal signals an upsert against a graded submission.
var ErrSubmissionFinal = errors.New("submission is graded and locked")

// SubmissionRepository persists the submission state machine.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FindByPair returns the single submission for (assignment, student).
func (r *SubmissionRepository) FindByPair(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	const query = `SELECT id, assignment_id, student_id, file_ref, file_name, title, comments, status, grade, feedback, graded_by, graded_at, submitted_at
FROM submissions WHERE assignment_id = $1 AND student_id = $2`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, assignmentID, studentID); err != nil {
		return nil, err
	}
	return &submission, nil
}

// FindByID returns a submission joined with its assignment metadata.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.SubmissionDetail, error) {
	const query = `SELECT s.id, s.assignment_id, s.student_id, s.file_ref, s.file_name, s.title, s.comments, s.status, s.grade, s.feedback, s.graded_by, s.graded_at, s.submitted_at,
       a.course, a.title AS assignment_title, a.max_points
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
WHERE s.id = $1`
	var detail models.SubmissionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Upsert creates the submission or replaces the previous upload in place.
// The single conditional statement keeps one row per pair and serialises
// concurrent submits; a graded row refuses the update and surfaces
// ErrSubmissionFinal.
func (r *SubmissionRepository) Upsert(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now().UTC()
	}
	submission.Status = models.SubmissionSubmitted

	const query = `INSERT INTO submissions (id, assignment_id, student_id, file_ref, file_name, title, comments, status, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (assignment_id, student_id) DO UPDATE
SET file_ref = EXCLUDED.file_ref,
    file_name = EXCLUDED.file_name,
    title = EXCLUDED.title,
    comments = EXCLUDED.comments,
    status = EXCLUDED.status,
    submitted_at = EXCLUDED.submitted_at
WHERE submissions.status <> 'GRADED'
RETURNING id`
	var id string
	err := r.db.GetContext(ctx, &id, query,
		submission.ID,
		submission.AssignmentID,
		submission.StudentID,
		submission.FileRef,
		submission.FileName,
		submission.Title,
		submission.Comments,
		submission.Status,
		submission.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSubmissionFinal
		}
		return fmt.Errorf("upsert submission: %w", err)
	}
	submission.ID = id
	return nil
}

// SetGrade transitions SUBMITTED to GRADED. Zero rows affected means the
// submission was not in a gradable state.
func (r *SubmissionRepository) SetGrade(ctx context.Context, id string, grade float64, feedback, gradedBy string, gradedAt time.Time) (bool, error) {
	const query = `UPDATE submissions
SET status = 'GRADED', grade = $2, feedback = $3, graded_by = $4, graded_at = $5
WHERE id = $1 AND status = 'SUBMITTED'`
	result, err := r.db.ExecContext(ctx, query, id, grade, feedback, gradedBy, gradedAt)
	if err != nil {
		return false, fmt.Errorf("grade submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grade submission rows: %w", err)
	}
	return affected == 1, nil
}

// ListByStudent returns the student's submissions, newest first.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID string) ([]models.SubmissionDetail, error) {
	const query = `SELECT s.id, s.assignment_id, s.student_id, s.file_ref, s.file_name, s.title, s.comments, s.status, s.grade, s.feedback, s.graded_by, s.graded_at, s.submitted_at,
       a.course, a.title AS assignment_title, a.max_points
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
WHERE s.student_id = $1
ORDER BY s.submitted_at DESC`
	var submissions []models.SubmissionDetail
	if err := r.db.SelectContext(ctx, &submissions, query, studentID); err != nil {
		return nil, fmt.Errorf("list student submissions: %w", err)
	}
	return submissions, nil
}

// ListByCourses returns submissions across the given courses, newest first.
func (r *SubmissionRepository) ListByCourses(ctx context.Context, courses []string) ([]models.SubmissionDetail, error) {
	if len(courses) == 0 {
		return nil, nil
	}
	const query = `SELECT s.id, s.assignment_id, s.student_id, s.file_ref, s.file_name, s.title, s.comments, s.status, s.grade, s.feedback, s.graded_by, s.graded_at, s.submitted_at,
       a.course, a.title AS assignment_title, a.max_points
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
WHERE a.course = ANY($1)
ORDER BY s.submitted_at DESC`
	var submissions []models.SubmissionDetail
	if err := r.db.SelectContext(ctx, &submissions, query, pq.Array(courses)); err != nil {
		return nil, fmt.Errorf("list course submissions: %w", err)
	}
	return submissions, nil
}
