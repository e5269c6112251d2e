package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campushq/portal-api/internal/service"
	appErrors "github.com/campushq/portal-api/pkg/errors"
	"github.com/campushq/portal-api/pkg/response"
)

// SubmissionHandler exposes the submission lifecycle endpoints.
type SubmissionHandler struct {
	submissions *service.SubmissionService
	metrics     *service.MetricsService
	maxFileSize int64
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(submissions *service.SubmissionService, metrics *service.MetricsService, maxFileSize int64) *SubmissionHandler {
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	return &SubmissionHandler{submissions: submissions, metrics: metrics, maxFileSize: maxFileSize}
}

func (h *SubmissionHandler) countSubmission(operation string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	h.metrics.CountSubmission(operation, outcome)
}

// Submit godoc
// @Summary Submit or resubmit work for an assignment
// @Tags Submissions
// @Accept multipart/form-data
// @Produce json
// @Param assignment_id formData string true "Assignment id"
// @Param title formData string true "Submission title"
// @Param comments formData string false "Comments"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /submissions [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	if fileHeader.Size > h.maxFileSize {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file exceeds maximum size"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable file"))
		return
	}
	defer file.Close() //nolint:errcheck

	req := service.SubmitRequest{
		AssignmentID: c.PostForm("assignment_id"),
		Title:        c.PostForm("title"),
		Comments:     c.PostForm("comments"),
		FileName:     fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		File:         file,
	}
	submission, err := h.submissions.Submit(c.Request.Context(), sessionFromContext(c), req)
	h.countSubmission("submit", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// ListForStudent godoc
// @Summary List a student's submissions
// @Tags Submissions
// @Produce json
// @Param id path string true "Student id"
// @Success 200 {object} response.Envelope
// @Router /submissions/student/{id} [get]
func (h *SubmissionHandler) ListForStudent(c *gin.Context) {
	submissions, err := h.submissions.ListForStudent(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions)
}

// ListForCourse godoc
// @Summary List a course's submissions
// @Tags Submissions
// @Produce json
// @Param course path string true "Course name"
// @Success 200 {object} response.Envelope
// @Router /submissions/course/{course} [get]
func (h *SubmissionHandler) ListForCourse(c *gin.Context) {
	submissions, err := h.submissions.ListForCourse(c.Request.Context(), sessionFromContext(c), c.Param("course"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions)
}

// ListMine godoc
// @Summary List submissions across the calling teacher's courses
// @Tags Submissions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /submissions/mine [get]
func (h *SubmissionHandler) ListMine(c *gin.Context) {
	submissions, err := h.submissions.ListForTeacher(c.Request.Context(), sessionFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions)
}

// Grade godoc
// @Summary Grade a submitted assignment
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission id"
// @Param payload body service.GradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/grade [post]
func (h *SubmissionHandler) Grade(c *gin.Context) {
	var req service.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.submissions.Grade(c.Request.Context(), sessionFromContext(c), c.Param("id"), req)
	h.countSubmission("grade", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail)
}

// DownloadURL godoc
// @Summary Issue a signed download link for a submission file
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission id"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/file [get]
func (h *SubmissionHandler) DownloadURL(c *gin.Context) {
	token, expiresAt, err := h.submissions.DownloadToken(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"url":        "/files/" + token,
		"expires_at": expiresAt,
	})
}

// Download streams the file referenced by a signed token.
func (h *SubmissionHandler) Download(c *gin.Context) {
	download, err := h.submissions.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck
	c.FileAttachment(download.File.Name(), download.FileName)
}

// ExportReport godoc
// @Summary Export a course's submissions as CSV or PDF
// @Tags Submissions
// @Produce octet-stream
// @Param course path string true "Course name"
// @Param format query string false "csv or pdf"
// @Success 200
// @Router /submissions/course/{course}/report [get]
func (h *SubmissionHandler) ExportReport(c *gin.Context) {
	course := c.Param("course")
	data, contentType, err := h.submissions.ExportCourseReport(c.Request.Context(), sessionFromContext(c), course, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	ext := "csv"
	if contentType == "application/pdf" {
		ext = "pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="submissions-`+course+`.`+ext+`"`)
	c.Data(http.StatusOK, contentType, data)
}
