package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	"github.com/noah-isme/batch-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
	"github.com/noah-isme/batch-scheduler-api/pkg/response"
)

// OperationHandler exposes the bulk operation coordinator over HTTP.
type OperationHandler struct {
	operations *service.OperationService
	logs       *service.OperationLogService
	exports    *service.ExportService
}

// NewOperationHandler constructs handler.
func NewOperationHandler(operations *service.OperationService, logs *service.OperationLogService, exports *service.ExportService) *OperationHandler {
	return &OperationHandler{operations: operations, logs: logs, exports: exports}
}

// Create godoc
// @Summary Submit a bulk operation
// @Description Accepts a batch of schedule mutations for background execution
// @Tags Operations
// @Accept json
// @Produce json
// @Param payload body dto.CreateOperationRequest true "Operation payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /operations [post]
func (h *OperationHandler) Create(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	op, err := h.operations.Create(c.Request.Context(), actor.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, statusResponse(op))
}

// List godoc
// @Summary List bulk operations
// @Tags Operations
// @Produce json
// @Param kind query string false "Filter by kind"
// @Param status query string false "Filter by status"
// @Param initiatorId query string false "Filter by initiator"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /operations [get]
func (h *OperationHandler) List(c *gin.Context) {
	var filter models.OperationFilter
	filter.Kind = strings.ToUpper(c.Query("kind"))
	filter.Status = strings.ToUpper(c.Query("status"))
	filter.InitiatorID = c.Query("initiatorId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}

	ops, pagination, err := h.operations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.OperationStatusResponse, 0, len(ops))
	for i := range ops {
		items = append(items, *statusResponse(&ops[i]))
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Poll a bulk operation
// @Description Returns the live progress snapshot for an operation
// @Tags Operations
// @Produce json
// @Param id path string true "Operation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /operations/{id} [get]
func (h *OperationHandler) Get(c *gin.Context) {
	op, err := h.operations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statusResponse(op), nil)
}

// Control godoc
// @Summary Pause or resume a bulk operation
// @Description Pause is acknowledged at the next item boundary
// @Tags Operations
// @Accept json
// @Produce json
// @Param id path string true "Operation ID"
// @Param payload body dto.OperationActionRequest true "Action payload"
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /operations/{id} [patch]
func (h *OperationHandler) Control(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.OperationActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	var (
		op  *models.BulkOperation
		err error
	)
	switch strings.ToLower(req.Action) {
	case "pause":
		op, err = h.operations.Pause(c.Request.Context(), c.Param("id"), actor)
	case "resume":
		op, err = h.operations.Resume(c.Request.Context(), c.Param("id"), actor)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "action must be pause or resume"))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, statusResponse(op))
}

// Cancel godoc
// @Summary Cancel a bulk operation
// @Description A running operation stops before its next item; processed items stay committed
// @Tags Operations
// @Produce json
// @Param id path string true "Operation ID"
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /operations/{id} [delete]
func (h *OperationHandler) Cancel(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	op, err := h.operations.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, statusResponse(op))
}

// Logs godoc
// @Summary Query an operation's log
// @Description Newest-first page of the append-only audit trail
// @Tags Operations
// @Produce json
// @Param id path string true "Operation ID"
// @Param level query string false "Filter by level"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /operations/{id}/logs [get]
func (h *OperationHandler) Logs(c *gin.Context) {
	var q models.OperationLogQuery
	q.Level = strings.ToUpper(c.Query("level"))
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		q.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		q.Offset = offset
	}

	page, err := h.logs.Query(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page, nil)
}

// Annotate godoc
// @Summary Append a manual log entry
// @Tags Operations
// @Accept json
// @Produce json
// @Param id path string true "Operation ID"
// @Param payload body dto.AppendLogRequest true "Log payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /operations/{id}/logs [post]
func (h *OperationHandler) Annotate(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AppendLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.logs.Annotate(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Export godoc
// @Summary Export an operation report
// @Description Renders the operation summary and full log trail
// @Tags Operations
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Operation ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /operations/{id}/export [get]
func (h *OperationHandler) Export(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exports.OperationReport(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func statusResponse(op *models.BulkOperation) *dto.OperationStatusResponse {
	return &dto.OperationStatusResponse{
		ID:        op.ID,
		Kind:      op.Kind,
		Status:    op.Status,
		Total:     op.TotalItems,
		Processed: op.ProcessedItems,
		Succeeded: op.SucceededItems,
		Failed:    op.FailedItems,
		CreatedAt: op.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: op.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
