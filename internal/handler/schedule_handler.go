package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	"github.com/noah-isme/batch-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
	"github.com/noah-isme/batch-scheduler-api/pkg/response"
)

// ScheduleHandler manages schedule entry endpoints.
type ScheduleHandler struct {
	service *service.ScheduleService
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// List godoc
// @Summary List schedule entries
// @Tags Schedules
// @Produce json
// @Param batchId query string false "Filter by batch"
// @Param facultyId query string false "Filter by faculty"
// @Param subjectId query string false "Filter by subject"
// @Param dayOfWeek query string false "Filter by day"
// @Param entryType query string false "Filter by entry type"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	var filter models.ScheduleEntryFilter
	filter.BatchID = c.Query("batchId")
	filter.FacultyID = c.Query("facultyId")
	filter.SubjectID = c.Query("subjectId")
	filter.DayOfWeek = strings.ToUpper(c.Query("dayOfWeek"))
	filter.EntryType = strings.ToUpper(c.Query("entryType"))
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	entries, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get a schedule entry
// @Tags Schedules
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	entry, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Create godoc
// @Summary Create a schedule entry
// @Description Validates, runs conflict detection and commits a single entry
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.ScheduleEntryRequest true "Entry payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req dto.ScheduleEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	if result.Duplicate {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}

// Update godoc
// @Summary Update a schedule entry
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.ScheduleEntryRequest true "Entry payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules/{id} [put]
func (h *ScheduleHandler) Update(c *gin.Context) {
	var req dto.ScheduleEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Deactivate a schedule entry
// @Tags Schedules
// @Param id path string true "Entry ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Check godoc
// @Summary Check a candidate entry for conflicts
// @Description Runs conflict detection without persisting anything
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.ConflictCheckRequest true "Candidate payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules/check [post]
func (h *ScheduleHandler) Check(c *gin.Context) {
	var req dto.ConflictCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Check(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DayView godoc
// @Summary Resolved day view for a batch
// @Description Returns entries, merged blocks and conflicts for one date
// @Tags Schedules
// @Produce json
// @Param id path string true "Batch ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /batches/{id}/day [get]
func (h *ScheduleHandler) DayView(c *gin.Context) {
	view, err := h.service.DayView(c.Request.Context(), c.Param("id"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Slots godoc
// @Summary List time slots
// @Tags Schedules
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /time-slots [get]
func (h *ScheduleHandler) Slots(c *gin.Context) {
	slots, err := h.service.Slots(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// respondScheduleError surfaces conflict reports alongside the error body
// so clients can render what blocked the commit.
func respondScheduleError(c *gin.Context, err error) {
	var conflictErr *models.ConflictDetectedError
	if errors.As(err, &conflictErr) {
		response.ErrorWithMeta(c, err, map[string]interface{}{
			"conflicts": conflictErr.Reports,
		})
		return
	}
	response.Error(c, err)
}
