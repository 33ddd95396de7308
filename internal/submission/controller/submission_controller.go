package controller

import (
	"strconv"
	"strings"

	"ojeval/internal/common/http/middleware"
	"ojeval/internal/submission/service"
	"ojeval/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	submissions *service.SubmissionService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(submissions *service.SubmissionService) *SubmissionController {
	return &SubmissionController{submissions: submissions}
}

// Register mounts the routes on an authenticated group.
func (h *SubmissionController) Register(group *gin.RouterGroup) {
	group.POST("/submissions", h.Create)
	group.GET("/submissions/:id", h.Get)
	group.GET("/submissions/:id/status", h.Status)
	group.GET("/submissions/:id/report", h.Report)
	group.POST("/submissions/:id/rerun", h.Rerun)
}

// Create accepts code for evaluation and answers 202 with the pending view.
func (h *SubmissionController) Create(c *gin.Context) {
	viewer, ok := middleware.ViewerFrom(c)
	if !ok {
		response.Unauthorized(c, "Missing viewer")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	view, err := h.submissions.Create(c.Request.Context(), service.CreateInput{
		UserID:         viewer.UserID,
		Username:       viewer.Username,
		ProblemID:      req.ProblemID,
		ContestID:      req.ContestID,
		Language:       req.Language,
		Code:           req.Code,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, view)
}

// Get returns one submission. Hidden test bodies are only shown to staff.
func (h *SubmissionController) Get(c *gin.Context) {
	viewer, id, ok := h.target(c)
	if !ok {
		return
	}
	view, err := h.submissions.Get(c.Request.Context(), id, viewer.UserID, viewer.IsStaff())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Status returns the polling snapshot.
func (h *SubmissionController) Status(c *gin.Context) {
	viewer, id, ok := h.target(c)
	if !ok {
		return
	}
	snap, err := h.submissions.Status(c.Request.Context(), id, viewer.UserID, viewer.IsStaff())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// Report returns the archived evaluation of ?generation=N, or of the
// current generation when the parameter is absent.
func (h *SubmissionController) Report(c *gin.Context) {
	viewer, id, ok := h.target(c)
	if !ok {
		return
	}
	var generation int64
	if raw := c.Query("generation"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			response.BadRequest(c, "Invalid generation")
			return
		}
		generation = n
	}
	report, err := h.submissions.Report(c.Request.Context(), id, viewer.UserID, viewer.IsStaff(), generation)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// Rerun reopens a terminal submission.
func (h *SubmissionController) Rerun(c *gin.Context) {
	viewer, id, ok := h.target(c)
	if !ok {
		return
	}
	snap, err := h.submissions.Rerun(c.Request.Context(), id, viewer.UserID, viewer.IsStaff())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, snap)
}

func (h *SubmissionController) target(c *gin.Context) (middleware.Viewer, string, bool) {
	viewer, ok := middleware.ViewerFrom(c)
	if !ok {
		response.Unauthorized(c, "Missing viewer")
		return middleware.Viewer{}, "", false
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "Invalid submission id")
		return middleware.Viewer{}, "", false
	}
	return viewer, id, true
}

// CreateRequest defines the submission payload.
type CreateRequest struct {
	ProblemID string `json:"problemId" binding:"required"`
	ContestID string `json:"contestId"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}
