package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campushq/portal-api/internal/models"
	"github.com/campushq/portal-api/internal/repository"
	appErrors "github.com/campushq/portal-api/pkg/errors"
	"github.com/campushq/portal-api/pkg/export"
	"github.com/campushq/portal-api/pkg/storage"
)

type submissionRepo interface {
	FindByPair(ctx context.Context, assignmentID, studentID string) (*models.Submission, error)
	FindByID(ctx context.Context, id string) (*models.SubmissionDetail, error)
	Upsert(ctx context.Context, submission *models.Submission) error
	SetGrade(ctx context.Context, id string, grade float64, feedback, gradedBy string, gradedAt time.Time) (bool, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.SubmissionDetail, error)
	ListByCourses(ctx context.Context, courses []string) ([]models.SubmissionDetail, error)
}

type assignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

type teacherCourseReader interface {
	CoursesOf(ctx context.Context, teacherID string) ([]string, error)
}

type fileStore interface {
	Save(fileName string, r io.Reader) (string, error)
	Open(ref string) (*os.File, error)
}

// defaultAllowedMIMEs is the submission upload allow-list.
var defaultAllowedMIMEs = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
}

// SubmitRequest carries a student's upload.
type SubmitRequest struct {
	AssignmentID string    `validate:"required"`
	Title        string    `validate:"required"`
	Comments     string    `validate:"-"`
	FileName     string    `validate:"required"`
	ContentType  string    `validate:"required"`
	File         io.Reader `validate:"required"`
}

// GradeRequest carries a teacher's grading action.
type GradeRequest struct {
	Grade    float64 `json:"grade"`
	Feedback string  `json:"feedback"`
}

// SubmissionDownload resolves a signed token to the stored file.
type SubmissionDownload struct {
	File      *os.File
	FileName  string
	ExpiresAt time.Time
}

// SubmissionService owns the assignment submission state machine:
// PENDING → SUBMITTED → GRADED, forward-only, one row per
// (assignment, student) pair.
type SubmissionService struct {
	submissions  submissionRepo
	assignments  assignmentReader
	roster       teacherCourseReader
	store        fileStore
	signer       *storage.SignedURLSigner
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	validator    *validator.Validate
	logger       *zap.Logger
	allowedMIMEs map[string]struct{}
}

// NewSubmissionService constructs the service. An empty allow-list falls
// back to the default document types.
func NewSubmissionService(submissions submissionRepo, assignments assignmentReader, roster teacherCourseReader, store fileStore, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger, allowedMIMEs []string) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(allowedMIMEs) == 0 {
		allowedMIMEs = defaultAllowedMIMEs
	}
	allowed := make(map[string]struct{}, len(allowedMIMEs))
	for _, mime := range allowedMIMEs {
		allowed[mime] = struct{}{}
	}
	return &SubmissionService{
		submissions:  submissions,
		assignments:  assignments,
		roster:       roster,
		store:        store,
		signer:       signer,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		validator:    validate,
		logger:       logger,
		allowedMIMEs: allowed,
	}
}

// Submit records a student's work. A resubmission replaces the previous
// upload in place; a graded submission is terminal and locked.
func (s *SubmissionService) Submit(ctx context.Context, session *models.Session, req SubmitRequest) (*models.Submission, error) {
	if session == nil || session.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students may submit work")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if _, ok := s.allowedMIMEs[req.ContentType]; !ok {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFile, fmt.Sprintf("file type %s not allowed", req.ContentType))
	}

	if _, err := s.assignments.FindByID(ctx, req.AssignmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to load assignment")
	}

	existing, err := s.submissions.FindByPair(ctx, req.AssignmentID, session.Identity.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to load submission")
	}
	if existing != nil && existing.Status == models.SubmissionGraded {
		return nil, appErrors.Clone(appErrors.ErrSubmissionLocked, "submission already graded")
	}

	fileRef, err := s.store.Save(req.FileName, req.File)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to store submission file")
	}

	submission := &models.Submission{
		AssignmentID: req.AssignmentID,
		StudentID:    session.Identity.ID,
		FileRef:      fileRef,
		FileName:     req.FileName,
		Title:        req.Title,
		Comments:     req.Comments,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := s.submissions.Upsert(ctx, submission); err != nil {
		if errors.Is(err, repository.ErrSubmissionFinal) {
			// Lost the race against a concurrent grade.
			return nil, appErrors.Clone(appErrors.ErrSubmissionLocked, "submission already graded")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to persist submission")
	}
	return submission, nil
}

// ListForStudent returns a student's submissions. Students may only read
// their own; teachers and admins may read any student's.
func (s *SubmissionService) ListForStudent(ctx context.Context, session *models.Session, studentID string) ([]models.SubmissionDetail, error) {
	if session == nil || !session.HasCapability() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no capability")
	}
	if session.Role == models.RoleStudent && session.Identity.ID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only read their own submissions")
	}
	submissions, err := s.submissions.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to list submissions")
	}
	return submissions, nil
}

// ListForCourse returns a course's submissions for its teacher of record.
func (s *SubmissionService) ListForCourse(ctx context.Context, session *models.Session, course string) ([]models.SubmissionDetail, error) {
	if err := s.requireCourseAccess(ctx, session, course); err != nil {
		return nil, err
	}
	submissions, err := s.submissions.ListByCourses(ctx, []string{course})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to list submissions")
	}
	return submissions, nil
}

// ListForTeacher returns submissions across all courses assigned to the
// calling teacher.
func (s *SubmissionService) ListForTeacher(ctx context.Context, session *models.Session) ([]models.SubmissionDetail, error) {
	if session == nil || session.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher role required")
	}
	courses, err := s.roster.CoursesOf(ctx, session.Identity.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to resolve assigned courses")
	}
	if len(courses) == 0 {
		return nil, nil
	}
	submissions, err := s.submissions.ListByCourses(ctx, courses)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to list submissions")
	}
	return submissions, nil
}

// Grade transitions a submission from SUBMITTED to GRADED. Only the teacher
// of the submission's course may grade, and only once.
func (s *SubmissionService) Grade(ctx context.Context, session *models.Session, submissionID string, req GradeRequest) (*models.SubmissionDetail, error) {
	if session == nil || session.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher role required")
	}

	detail, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to load submission")
	}

	owns, err := s.teacherOwnsCourse(ctx, session.Identity.ID, detail.Course)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course not assigned to teacher")
	}

	if req.Grade < 0 || req.Grade > detail.MaxPoints {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("grade must be between 0 and %g", detail.MaxPoints))
	}
	if !detail.Status.CanTransitionTo(models.SubmissionGraded) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot grade a %s submission", detail.Status))
	}

	gradedAt := time.Now().UTC()
	transitioned, err := s.submissions.SetGrade(ctx, submissionID, req.Grade, req.Feedback, session.Identity.ID, gradedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to persist grade")
	}
	if !transitioned {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "submission is not in a gradable state")
	}

	detail.Status = models.SubmissionGraded
	detail.Grade = &req.Grade
	detail.Feedback = &req.Feedback
	detail.GradedBy = &session.Identity.ID
	detail.GradedAt = &gradedAt
	return detail, nil
}

// DownloadToken issues a signed token for the submission's stored file.
// The owner student, the course's teacher and admins may download.
func (s *SubmissionService) DownloadToken(ctx context.Context, session *models.Session, submissionID string) (string, time.Time, error) {
	if session == nil || !session.HasCapability() {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "no capability")
	}

	detail, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to load submission")
	}

	switch session.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		if detail.StudentID != session.Identity.ID {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "submission belongs to another student")
		}
	case models.RoleTeacher:
		owns, err := s.teacherOwnsCourse(ctx, session.Identity.ID, detail.Course)
		if err != nil {
			return "", time.Time{}, err
		}
		if !owns {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "course not assigned to teacher")
		}
	default:
		return "", time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "no capability")
	}

	token, expiresAt, err := s.signer.Generate(detail.ID, detail.FileRef)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// ResolveDownload validates a signed token and opens the referenced file.
func (s *SubmissionService) ResolveDownload(ctx context.Context, token string) (*SubmissionDownload, error) {
	submissionID, fileRef, expiresAt, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}

	detail, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to load submission")
	}

	file, err := s.store.Open(fileRef)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to open submission file")
	}
	return &SubmissionDownload{File: file, FileName: detail.FileName, ExpiresAt: expiresAt}, nil
}

// ExportCourseReport renders a course's submissions as CSV or PDF for its
// teacher of record.
func (s *SubmissionService) ExportCourseReport(ctx context.Context, session *models.Session, course, format string) ([]byte, string, error) {
	if err := s.requireCourseAccess(ctx, session, course); err != nil {
		return nil, "", err
	}

	submissions, err := s.submissions.ListByCourses(ctx, []string{course})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to list submissions")
	}

	dataset := export.Dataset{
		Headers: []string{"Assignment", "Student", "Title", "Status", "Grade", "Submitted At"},
	}
	for _, sub := range submissions {
		grade := ""
		if sub.Grade != nil {
			grade = fmt.Sprintf("%g", *sub.Grade)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Assignment":   sub.AssignmentTitle,
			"Student":      sub.StudentID,
			"Title":        sub.Title,
			"Status":       string(sub.Status),
			"Grade":        grade,
			"Submitted At": sub.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}

	switch format {
	case "pdf":
		data, err := s.pdf.Render(dataset, fmt.Sprintf("Submissions %s", course))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
		}
		return data, "application/pdf", nil
	case "", "csv":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
		}
		return data, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *SubmissionService) requireCourseAccess(ctx context.Context, session *models.Session, course string) error {
	if session == nil || !session.HasCapability() {
		return appErrors.Clone(appErrors.ErrForbidden, "no capability")
	}
	switch session.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		owns, err := s.teacherOwnsCourse(ctx, session.Identity.ID, course)
		if err != nil {
			return err
		}
		if !owns {
			return appErrors.Clone(appErrors.ErrForbidden, "course not assigned to teacher")
		}
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "teacher role required")
	}
}

func (s *SubmissionService) teacherOwnsCourse(ctx context.Context, teacherID, course string) (bool, error) {
	courses, err := s.roster.CoursesOf(ctx, teacherID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to resolve assigned courses")
	}
	for _, c := range courses {
		if c == course {
			return true, nil
		}
	}
	return false, nil
}
