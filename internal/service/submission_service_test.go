package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campushq/portal-api/internal/models"
	"github.com/campushq/portal-api/internal/repository"
	appErrors "github.com/campushq/portal-api/pkg/errors"
	"github.com/campushq/portal-api/pkg/storage"
)

type submissionRepoMock struct {
	byPair map[string]*models.Submission
	course map[string]string // assignmentID -> course
	title  map[string]string // assignmentID -> assignment title
	points map[string]float64
}

func newSubmissionRepoMock() *submissionRepoMock {
	return &submissionRepoMock{
		byPair: map[string]*models.Submission{},
		course: map[string]string{},
		title:  map[string]string{},
		points: map[string]float64{},
	}
}

func pairKey(assignmentID, studentID string) string {
	return assignmentID + "/" + studentID
}

func (m *submissionRepoMock) FindByPair(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	if sub, ok := m.byPair[pairKey(assignmentID, studentID)]; ok {
		clone := *sub
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *submissionRepoMock) FindByID(ctx context.Context, id string) (*models.SubmissionDetail, error) {
	for _, sub := range m.byPair {
		if sub.ID == id {
			return m.detail(sub), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *submissionRepoMock) Upsert(ctx context.Context, submission *models.Submission) error {
	key := pairKey(submission.AssignmentID, submission.StudentID)
	if existing, ok := m.byPair[key]; ok {
		if existing.Status == models.SubmissionGraded {
			return repository.ErrSubmissionFinal
		}
		submission.ID = existing.ID
	} else {
		submission.ID = uuid.NewString()
	}
	submission.Status = models.SubmissionSubmitted
	clone := *submission
	m.byPair[key] = &clone
	return nil
}

func (m *submissionRepoMock) SetGrade(ctx context.Context, id string, grade float64, feedback, gradedBy string, gradedAt time.Time) (bool, error) {
	for _, sub := range m.byPair {
		if sub.ID != id {
			continue
		}
		if sub.Status != models.SubmissionSubmitted {
			return false, nil
		}
		sub.Status = models.SubmissionGraded
		sub.Grade = &grade
		sub.Feedback = &feedback
		sub.GradedBy = &gradedBy
		sub.GradedAt = &gradedAt
		return true, nil
	}
	return false, nil
}

func (m *submissionRepoMock) ListByStudent(ctx context.Context, studentID string) ([]models.SubmissionDetail, error) {
	var out []models.SubmissionDetail
	for _, sub := range m.byPair {
		if sub.StudentID == studentID {
			out = append(out, *m.detail(sub))
		}
	}
	return out, nil
}

func (m *submissionRepoMock) ListByCourses(ctx context.Context, courses []string) ([]models.SubmissionDetail, error) {
	var out []models.SubmissionDetail
	for _, sub := range m.byPair {
		for _, course := range courses {
			if m.course[sub.AssignmentID] == course {
				out = append(out, *m.detail(sub))
			}
		}
	}
	return out, nil
}

func (m *submissionRepoMock) detail(sub *models.Submission) *models.SubmissionDetail {
	return &models.SubmissionDetail{
		Submission:      *sub,
		Course:          m.course[sub.AssignmentID],
		AssignmentTitle: m.title[sub.AssignmentID],
		MaxPoints:       m.points[sub.AssignmentID],
	}
}

type assignmentReaderMock struct {
	assignments map[string]models.Assignment
}

func (m *assignmentReaderMock) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	if a, ok := m.assignments[id]; ok {
		return &a, nil
	}
	return nil, sql.ErrNoRows
}

type teacherCoursesMock struct {
	courses map[string][]string
}

func (m *teacherCoursesMock) CoursesOf(ctx context.Context, teacherID string) ([]string, error) {
	return m.courses[teacherID], nil
}

type fileStoreMock struct {
	saved map[string]string
	fail  bool
}

func (m *fileStoreMock) Save(fileName string, r io.Reader) (string, error) {
	if m.fail {
		return "", fmt.Errorf("disk full")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	ref := fmt.Sprintf("ref-%d/%s", len(m.saved), fileName)
	m.saved[ref] = string(data)
	return ref, nil
}

func (m *fileStoreMock) Open(ref string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func studentSession(id string) *models.Session {
	return &models.Session{Identity: models.Identity{ID: id, Email: id + "@example.edu"}, Role: models.RoleStudent}
}

func teacherSession(id string) *models.Session {
	return &models.Session{Identity: models.Identity{ID: id, Email: id + "@example.edu"}, Role: models.RoleTeacher}
}

func newSubmissionFixture() (*SubmissionService, *submissionRepoMock, *fileStoreMock) {
	repo := newSubmissionRepoMock()
	repo.course["asg-1"] = "MATH-101"
	repo.title["asg-1"] = "Problem Set 3"
	repo.points["asg-1"] = 100

	assignments := &assignmentReaderMock{assignments: map[string]models.Assignment{
		"asg-1": {ID: "asg-1", Course: "MATH-101", Title: "Problem Set 3", MaxPoints: 100},
	}}
	roster := &teacherCoursesMock{courses: map[string][]string{
		"tch-1": {"MATH-101"},
		"tch-2": {"HIST-210"},
	}}
	store := &fileStoreMock{saved: map[string]string{}}
	signer := storage.NewSignedURLSigner("test_secret", 15*time.Minute)

	svc := NewSubmissionService(repo, assignments, roster, store, signer, nil, nil, nil)
	return svc, repo, store
}

func validSubmit() SubmitRequest {
	return SubmitRequest{
		AssignmentID: "asg-1",
		Title:        "Problem Set 3",
		FileName:     "answers.pdf",
		ContentType:  "application/pdf",
		File:         strings.NewReader("solutions"),
	}
}

func TestSubmitCreatesSubmission(t *testing.T) {
	svc, repo, _ := newSubmissionFixture()

	sub, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)
	require.Equal(t, models.SubmissionSubmitted, sub.Status)
	require.NotEmpty(t, sub.ID)
	require.Len(t, repo.byPair, 1)
}

func TestSubmitResubmissionReplacesInPlace(t *testing.T) {
	svc, repo, _ := newSubmissionFixture()

	first, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	req := validSubmit()
	req.Title = "Problem Set 3 (revised)"
	req.File = strings.NewReader("better solutions")
	second, err := svc.Submit(context.Background(), studentSession("stu-1"), req)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.byPair, 1)
	require.Equal(t, "Problem Set 3 (revised)", repo.byPair[pairKey("asg-1", "stu-1")].Title)
}

func TestSubmitGradedIsLocked(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	sub, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	_, err = svc.Grade(context.Background(), teacherSession("tch-1"), sub.ID, GradeRequest{Grade: 92, Feedback: "well argued"})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.True(t, appErrors.Is(err, appErrors.ErrSubmissionLocked))
}

func TestSubmitRejectsUnsupportedFileType(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	req := validSubmit()
	req.FileName = "answers.zip"
	req.ContentType = "application/zip"
	_, err := svc.Submit(context.Background(), studentSession("stu-1"), req)
	require.True(t, appErrors.Is(err, appErrors.ErrUnsupportedFile))
}

func TestSubmitRejectsEmptyTitle(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	req := validSubmit()
	req.Title = ""
	_, err := svc.Submit(context.Background(), studentSession("stu-1"), req)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSubmitUnknownAssignment(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	req := validSubmit()
	req.AssignmentID = "asg-missing"
	_, err := svc.Submit(context.Background(), studentSession("stu-1"), req)
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestSubmitRequiresStudentRole(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	_, err := svc.Submit(context.Background(), teacherSession("tch-1"), validSubmit())
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	unassigned := &models.Session{Identity: models.Identity{ID: "usr-9"}, Role: models.RoleUnassigned}
	_, err = svc.Submit(context.Background(), unassigned, validSubmit())
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestSubmitWrapsStorageFailure(t *testing.T) {
	svc, _, store := newSubmissionFixture()
	store.fail = true

	_, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.True(t, appErrors.Is(err, appErrors.ErrCollaborator))
}

func TestGradeFromSubmittedOnly(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	sub, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	graded, err := svc.Grade(context.Background(), teacherSession("tch-1"), sub.ID, GradeRequest{Grade: 85, Feedback: "good"})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionGraded, graded.Status)
	require.Equal(t, 85.0, *graded.Grade)

	// Graded is terminal.
	_, err = svc.Grade(context.Background(), teacherSession("tch-1"), sub.ID, GradeRequest{Grade: 90})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestGradeForbiddenForOtherTeacher(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	sub, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	_, err = svc.Grade(context.Background(), teacherSession("tch-2"), sub.ID, GradeRequest{Grade: 70})
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestGradeBounds(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	sub, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	_, err = svc.Grade(context.Background(), teacherSession("tch-1"), sub.ID, GradeRequest{Grade: 120})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Grade(context.Background(), teacherSession("tch-1"), sub.ID, GradeRequest{Grade: -5})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestGradeUnknownSubmission(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	_, err := svc.Grade(context.Background(), teacherSession("tch-1"), "sub-missing", GradeRequest{Grade: 50})
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestListForStudentSelfOnly(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	_, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	mine, err := svc.ListForStudent(context.Background(), studentSession("stu-1"), "stu-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = svc.ListForStudent(context.Background(), studentSession("stu-2"), "stu-1")
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	theirs, err := svc.ListForStudent(context.Background(), teacherSession("tch-1"), "stu-1")
	require.NoError(t, err)
	require.Len(t, theirs, 1)
}

func TestListForTeacherScopedToAssignedCourses(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	_, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	subs, err := svc.ListForTeacher(context.Background(), teacherSession("tch-1"))
	require.NoError(t, err)
	require.Len(t, subs, 1)

	none, err := svc.ListForTeacher(context.Background(), teacherSession("tch-2"))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDownloadTokenOwnership(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	sub, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	token, expiresAt, err := svc.DownloadToken(context.Background(), studentSession("stu-1"), sub.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))

	_, _, err = svc.DownloadToken(context.Background(), studentSession("stu-2"), sub.ID)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, _, err = svc.DownloadToken(context.Background(), teacherSession("tch-2"), sub.ID)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestExportCourseReportCSV(t *testing.T) {
	svc, _, _ := newSubmissionFixture()

	_, err := svc.Submit(context.Background(), studentSession("stu-1"), validSubmit())
	require.NoError(t, err)

	data, contentType, err := svc.ExportCourseReport(context.Background(), teacherSession("tch-1"), "MATH-101", "csv")
	require.NoError(t, err)
	require.Equal(t, "text/csv", contentType)
	require.Contains(t, string(data), "Problem Set 3")

	_, _, err = svc.ExportCourseReport(context.Background(), teacherSession("tch-1"), "MATH-101", "xml")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
