package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// RosterRepository resolves course membership for broadcast fan-out and
// teacher course-assignment checks.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// StudentsOf returns the ids of all students enrolled in the course.
func (r *RosterRepository) StudentsOf(ctx context.Context, course string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE course = $1 ORDER BY student_id`
	var students []string
	if err := r.db.SelectContext(ctx, &students, query, course); err != nil {
		return nil, fmt.Errorf("list course roster: %w", err)
	}
	return students, nil
}

// AllStudents returns every student identity in the cohort.
func (r *RosterRepository) AllStudents(ctx context.Context) ([]string, error) {
	const query = `SELECT identity_id FROM role_assignments WHERE role = 'STUDENT' ORDER BY identity_id`
	var students []string
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list student cohort: %w", err)
	}
	return students, nil
}

// CoursesOf returns the courses assigned to the teacher.
func (r *RosterRepository) CoursesOf(ctx context.Context, teacherID string) ([]string, error) {
	const query = `SELECT course FROM teacher_courses WHERE teacher_id = $1 ORDER BY course`
	var courses []string
	if err := r.db.SelectContext(ctx, &courses, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher courses: %w", err)
	}
	return courses, nil
}
