package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	"github.com/noah-isme/batch-scheduler-api/pkg/config"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
	"github.com/noah-isme/batch-scheduler-api/pkg/jobs"
)

const operationStatusCachePrefix = "operation:status:"

type operationStore interface {
	Create(ctx context.Context, op *models.BulkOperation) error
	GetByID(ctx context.Context, id string) (*models.BulkOperation, error)
	List(ctx context.Context, filter models.OperationFilter) ([]models.BulkOperation, int, error)
	TransitionStatus(ctx context.Context, id string, from, to models.OperationStatus) error
	SetStatus(ctx context.Context, id string, status models.OperationStatus) error
	RecordItemTx(ctx context.Context, tx *sqlx.Tx, id string, succeeded bool) error
	ListResumable(ctx context.Context, limit int) ([]models.BulkOperation, error)
}

type operationLogWriter interface {
	Append(ctx context.Context, entry *models.OperationLogEntry) error
	AppendTx(ctx context.Context, tx *sqlx.Tx, entry *models.OperationLogEntry) error
}

type operationEntryStore interface {
	FindByID(ctx context.Context, id string) (*models.ScheduleEntry, error)
	FindActiveForBatchOnDate(ctx context.Context, batchID string, date time.Time) ([]models.ScheduleEntry, error)
	FindActiveForFacultyOnDate(ctx context.Context, facultyID string, date time.Time) ([]models.ScheduleEntry, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.ScheduleEntry) (bool, error)
	DeactivateTx(ctx context.Context, tx *sqlx.Tx, id string) error
}

type statusCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type operationMetrics interface {
	ObserveOperationItem(kind string, succeeded bool)
	ObserveOperationFinished(kind, status string)
}

// controlFlags are the cooperative signals a runner observes between items.
// They are advisory only; the runner alone moves the persisted status.
type controlFlags struct {
	pause  bool
	cancel bool
}

type controlHub struct {
	mu    sync.Mutex
	flags map[string]*controlFlags
}

func newControlHub() *controlHub {
	return &controlHub{flags: make(map[string]*controlFlags)}
}

func (h *controlHub) requestPause(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensure(id).pause = true
}

func (h *controlHub) requestCancel(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensure(id).cancel = true
}

func (h *controlHub) snapshot(id string) controlFlags {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.flags[id]; ok {
		return *f
	}
	return controlFlags{}
}

func (h *controlHub) clear(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.flags, id)
}

func (h *controlHub) ensure(id string) *controlFlags {
	if f, ok := h.flags[id]; ok {
		return f
	}
	f := &controlFlags{}
	h.flags[id] = f
	return f
}

// OperationService coordinates bulk schedule mutations: it validates and
// expands submissions into item lists, runs them on a worker pool, and
// honours pause/resume/cancel signals at item boundaries. Every item commits
// its entry mutation, its log line and its counter bump in one transaction,
// so pollers never observe counters ahead of the log.
type OperationService struct {
	db        *sqlx.DB
	ops       operationStore
	logs      operationLogWriter
	entries   operationEntryStore
	slots     timeSlotReader
	calendar  calendarReader
	cache     statusCache
	detector  *ConflictDetector
	metrics   operationMetrics
	validator *validator.Validate
	logger    *zap.Logger
	cfg       config.OperationsConfig

	hub   *controlHub
	queue *jobs.Queue
}

// NewOperationService wires the coordinator. cache and metrics may be nil.
func NewOperationService(db *sqlx.DB, ops operationStore, logs operationLogWriter, entries operationEntryStore, slots timeSlotReader, calendar calendarReader, cache statusCache, detector *ConflictDetector, metrics operationMetrics, validate *validator.Validate, logger *zap.Logger, cfg config.OperationsConfig) *OperationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewConflictDetector(logger)
	}
	s := &OperationService{
		db:        db,
		ops:       ops,
		logs:      logs,
		entries:   entries,
		slots:     slots,
		calendar:  calendar,
		cache:     cache,
		detector:  detector,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		hub:       newControlHub(),
	}
	s.queue = jobs.NewQueue("bulk-operations", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		BufferSize: cfg.QueueBuffer,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool and, when configured, re-enqueues
// operations left over from a previous process.
func (s *OperationService) Start(ctx context.Context) error {
	s.queue.Start(ctx)
	if s.cfg.RecoverOnStart {
		return s.Recover(ctx)
	}
	return nil
}

// Stop drains the worker pool.
func (s *OperationService) Stop() {
	s.queue.Stop()
}

// Create validates and expands a submission, persists it as PENDING and
// enqueues it for execution.
func (s *OperationService) Create(ctx context.Context, initiatorID string, req dto.CreateOperationRequest) (*models.BulkOperation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid operation payload")
	}
	kind := models.OperationKind(req.Kind)
	if !models.ValidOperationKind(kind) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown operation kind %q", req.Kind))
	}

	items, err := s.expandItems(ctx, kind, req)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "operation has no items")
	}
	if s.cfg.MaxItems > 0 && len(items) > s.cfg.MaxItems {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("operation exceeds the %d item limit", s.cfg.MaxItems))
	}

	op := &models.BulkOperation{
		ID:          uuid.NewString(),
		InitiatorID: initiatorID,
		Kind:        kind,
		Status:      models.OperationStatusPending,
		Items:       items,
	}
	if err := s.ops.Create(ctx, op); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist operation")
	}
	s.appendMilestone(ctx, op.ID, models.LogLevelInfo, "operation accepted", models.LogDetails{
		"kind":        string(kind),
		"total_items": len(items),
	})

	if err := s.queue.Enqueue(jobs.Job{ID: op.ID, Type: string(kind), Enqueued: time.Now().UTC()}); err != nil {
		// The record stays PENDING; a restart with recovery enabled will
		// pick it up.
		s.logger.Warn("failed to enqueue operation", zap.String("operation_id", op.ID), zap.Error(err))
	}
	return op, nil
}

// Get returns the pollable snapshot, served from cache when fresh.
func (s *OperationService) Get(ctx context.Context, id string) (*models.BulkOperation, error) {
	if s.cache != nil {
		var cached models.BulkOperation
		if err := s.cache.Get(ctx, operationStatusCachePrefix+id, &cached); err == nil {
			return &cached, nil
		}
	}
	op, err := s.ops.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "operation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load operation")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, operationStatusCachePrefix+id, op, s.cfg.StatusCacheTTL); err != nil {
			s.logger.Debug("failed to cache operation status", zap.String("operation_id", id), zap.Error(err))
		}
	}
	return op, nil
}

// List returns operations matching the filter.
func (s *OperationService) List(ctx context.Context, filter models.OperationFilter) ([]models.BulkOperation, *models.Pagination, error) {
	ops, total, err := s.ops.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list operations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return ops, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Pause requests a cooperative pause. The runner acknowledges at the next
// item boundary; until then the operation legitimately reports RUNNING.
func (s *OperationService) Pause(ctx context.Context, id string, actor *models.User) (*models.BulkOperation, error) {
	op, err := s.requireOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can pause operations")
	}
	if op.Status != models.OperationStatusRunning {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot pause a %s operation", op.Status))
	}
	s.hub.requestPause(id)
	s.invalidateStatus(ctx, id)
	return op, nil
}

// Resume moves a PAUSED operation back to RUNNING and re-enqueues it.
func (s *OperationService) Resume(ctx context.Context, id string, actor *models.User) (*models.BulkOperation, error) {
	op, err := s.requireOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can resume operations")
	}
	if err := s.ops.TransitionStatus(ctx, id, models.OperationStatusPaused, models.OperationStatusRunning); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot resume a %s operation", op.Status))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resume operation")
	}
	s.hub.clear(id)
	s.invalidateStatus(ctx, id)
	s.appendMilestone(ctx, id, models.LogLevelInfo, "operation resumed", models.LogDetails{
		"resumed_by": actor.ID,
		"from_item":  op.ProcessedItems,
	})
	if err := s.queue.Enqueue(jobs.Job{ID: id, Type: string(op.Kind), Enqueued: time.Now().UTC()}); err != nil {
		s.logger.Warn("failed to enqueue resumed operation", zap.String("operation_id", id), zap.Error(err))
	}
	return s.Get(ctx, id)
}

// Cancel stops an operation. A RUNNING one receives a cooperative signal and
// stops before its next item; a PAUSED one is cancelled immediately. Already
// processed items are never rolled back.
func (s *OperationService) Cancel(ctx context.Context, id string, actor *models.User) (*models.BulkOperation, error) {
	op, err := s.requireOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsAdmin() && actor.ID != op.InitiatorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the initiator or an administrator can cancel an operation")
	}
	switch op.Status {
	case models.OperationStatusRunning:
		s.hub.requestCancel(id)
		s.invalidateStatus(ctx, id)
		return op, nil
	case models.OperationStatusPaused:
		if err := s.ops.TransitionStatus(ctx, id, models.OperationStatusPaused, models.OperationStatusCancelled); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "operation state changed, retry the cancellation")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel operation")
		}
		s.hub.clear(id)
		s.invalidateStatus(ctx, id)
		s.appendMilestone(ctx, id, models.LogLevelWarn, "operation cancelled", models.LogDetails{
			"cancelled_by":    actor.ID,
			"processed_items": op.ProcessedItems,
			"total_items":     op.TotalItems,
		})
		s.observeFinished(op.Kind, models.OperationStatusCancelled)
		return s.Get(ctx, id)
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot cancel a %s operation", op.Status))
	}
}

// Recover re-enqueues operations left PENDING or RUNNING by a previous
// process. Their items resume from the persisted processed offset.
func (s *OperationService) Recover(ctx context.Context) error {
	ops, err := s.ops.ListResumable(ctx, 100)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list resumable operations")
	}
	for _, op := range ops {
		s.logger.Info("recovering operation",
			zap.String("operation_id", op.ID),
			zap.String("status", string(op.Status)),
			zap.Int("processed_items", op.ProcessedItems),
		)
		if err := s.queue.Enqueue(jobs.Job{ID: op.ID, Type: string(op.Kind), Enqueued: time.Now().UTC(), Recovery: true}); err != nil {
			s.logger.Warn("failed to enqueue recovered operation", zap.String("operation_id", op.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *OperationService) requireOperation(ctx context.Context, id string) (*models.BulkOperation, error) {
	op, err := s.ops.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "operation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load operation")
	}
	return op, nil
}

// expandItems turns a submission into the persisted work list.
func (s *OperationService) expandItems(ctx context.Context, kind models.OperationKind, req dto.CreateOperationRequest) (models.OperationItems, error) {
	switch kind {
	case models.OperationKindMassDelete:
		if len(req.EntryIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "entryIds is required for MASS_DELETE")
		}
		items := make(models.OperationItems, 0, len(req.EntryIDs))
		for i, id := range req.EntryIDs {
			items = append(items, models.OperationItem{Index: i, EntryID: id})
		}
		return items, nil

	case models.OperationKindTemplateApply:
		if len(req.Entries) == 0 || len(req.Dates) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "entries and dates are required for TEMPLATE_APPLY")
		}
		items := make(models.OperationItems, 0, len(req.Entries)*len(req.Dates))
		for _, raw := range req.Dates {
			date, err := time.Parse(dateLayout, raw)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid date %q", raw))
			}
			for _, tmpl := range req.Entries {
				applied := tmpl
				applied.OccursOn = date.Format(dateLayout)
				applied.DayOfWeek = string(models.DayOfWeekFromTime(date))
				entry, err := buildScheduleEntry(ctx, s.slots, s.validator, applied)
				if err != nil {
					return nil, err
				}
				items = append(items, models.OperationItem{Index: len(items), Entry: entry})
			}
		}
		return items, nil

	case models.OperationKindImport, models.OperationKindMassCreate:
		if len(req.Entries) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "entries is required")
		}
		items := make(models.OperationItems, 0, len(req.Entries))
		for i, raw := range req.Entries {
			entry, err := buildScheduleEntry(ctx, s.slots, s.validator, raw)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("entry %d is invalid", i))
			}
			items = append(items, models.OperationItem{Index: i, Entry: entry})
		}
		return items, nil

	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown operation kind %q", kind))
	}
}

// handleJob is the queue entry point for one operation.
func (s *OperationService) handleJob(ctx context.Context, job jobs.Job) error {
	op, err := s.ops.GetByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load operation %s: %w", job.ID, err)
	}

	switch op.Status {
	case models.OperationStatusPending:
		if err := s.ops.TransitionStatus(ctx, op.ID, models.OperationStatusPending, models.OperationStatusRunning); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Someone else already started or finished it.
				return nil
			}
			return fmt.Errorf("start operation %s: %w", op.ID, err)
		}
		s.appendMilestone(ctx, op.ID, models.LogLevelInfo, "operation started", models.LogDetails{
			"total_items": op.TotalItems,
		})
	case models.OperationStatusRunning:
		// Either a resume (Resume already wrote its milestone) or a recovery
		// after the previous process died mid-run. Only the latter warrants
		// an audit trail entry; the persisted processed offset tells us where
		// to continue either way.
		if job.Recovery {
			s.appendMilestone(ctx, op.ID, models.LogLevelWarn, "operation recovered after interruption", models.LogDetails{
				"from_item": op.ProcessedItems,
			})
		}
	default:
		return nil
	}
	s.invalidateStatus(ctx, op.ID)

	return s.run(ctx, op)
}

// run processes items sequentially starting from the persisted offset,
// observing control flags before each item.
func (s *OperationService) run(ctx context.Context, op *models.BulkOperation) error {
	succeeded := op.SucceededItems
	failed := op.FailedItems

	for i := op.ProcessedItems; i < len(op.Items); i++ {
		flags := s.hub.snapshot(op.ID)
		if flags.cancel {
			return s.finish(ctx, op, models.OperationStatusCancelled, models.LogLevelWarn, "operation cancelled", i, succeeded, failed)
		}
		if flags.pause {
			if err := s.ops.TransitionStatus(ctx, op.ID, models.OperationStatusRunning, models.OperationStatusPaused); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("pause operation %s: %w", op.ID, err)
			}
			s.hub.clear(op.ID)
			s.invalidateStatus(ctx, op.ID)
			s.appendMilestone(ctx, op.ID, models.LogLevelInfo, "operation paused", models.LogDetails{
				"processed_items": i,
				"total_items":     op.TotalItems,
			})
			return nil
		}
		if err := ctx.Err(); err != nil {
			// Shutdown. Leave the record RUNNING; recovery resumes it.
			return nil
		}

		ok, err := s.processItem(ctx, op, op.Items[i])
		if err != nil {
			s.appendMilestone(ctx, op.ID, models.LogLevelError, "operation aborted by infrastructure failure", models.LogDetails{
				"item_index": i,
				"error":      err.Error(),
			})
			if serr := s.ops.SetStatus(ctx, op.ID, models.OperationStatusFailed); serr != nil {
				s.logger.Error("failed to mark operation failed", zap.String("operation_id", op.ID), zap.Error(serr))
			}
			s.hub.clear(op.ID)
			s.invalidateStatus(ctx, op.ID)
			s.observeFinished(op.Kind, models.OperationStatusFailed)
			return err
		}
		if ok {
			succeeded++
		} else {
			failed++
		}
		if s.metrics != nil {
			s.metrics.ObserveOperationItem(string(op.Kind), ok)
		}
		s.invalidateStatus(ctx, op.ID)
	}

	return s.finish(ctx, op, models.OperationStatusCompleted, models.LogLevelInfo, "operation completed", len(op.Items), succeeded, failed)
}

// finish moves a RUNNING operation to its terminal status and writes the
// closing milestone log line.
func (s *OperationService) finish(ctx context.Context, op *models.BulkOperation, status models.OperationStatus, level models.LogLevel, message string, processed, succeeded, failed int) error {
	if err := s.ops.TransitionStatus(ctx, op.ID, models.OperationStatusRunning, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("finish operation %s: %w", op.ID, err)
	}
	s.hub.clear(op.ID)
	s.invalidateStatus(ctx, op.ID)
	s.appendMilestone(ctx, op.ID, level, message, models.LogDetails{
		"processed_items": processed,
		"succeeded_items": succeeded,
		"failed_items":    failed,
		"total_items":     op.TotalItems,
	})
	s.observeFinished(op.Kind, status)
	return nil
}

// processItem executes one work unit. The entry mutation, its log line and
// the counter bump commit in a single transaction. A nil error with ok=false
// means the item failed for a business reason (e.g. a blocking conflict) and
// the operation keeps going; a non-nil error is an infrastructure failure
// that fails the whole operation.
func (s *OperationService) processItem(ctx context.Context, op *models.BulkOperation, item models.OperationItem) (ok bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin item transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		level   models.LogLevel
		message string
		details models.LogDetails
	)

	switch {
	case op.Kind == models.OperationKindMassDelete:
		ok, level, message, details, err = s.deleteItem(ctx, tx, item)
	default:
		ok, level, message, details, err = s.createItem(ctx, tx, item)
	}
	if err != nil {
		return false, err
	}

	if details == nil {
		details = models.LogDetails{}
	}
	details["item_index"] = item.Index
	if err = s.logs.AppendTx(ctx, tx, &models.OperationLogEntry{
		ID:          uuid.NewString(),
		OperationID: op.ID,
		Level:       level,
		Message:     message,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		return false, fmt.Errorf("append item log: %w", err)
	}
	if err = s.ops.RecordItemTx(ctx, tx, op.ID, ok); err != nil {
		return false, fmt.Errorf("record item counters: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit item transaction: %w", err)
	}
	return ok, nil
}

func (s *OperationService) createItem(ctx context.Context, tx *sqlx.Tx, item models.OperationItem) (bool, models.LogLevel, string, models.LogDetails, error) {
	entry := item.Entry
	if entry == nil {
		return false, models.LogLevelError, "item has no entry payload", nil, nil
	}

	evalDate := evaluationDate(entry)

	// Reads run outside the item transaction. Items commit sequentially, so
	// earlier items of the same operation are already visible here.
	existing, err := s.neighbours(ctx, entry, evalDate)
	if err != nil {
		return false, "", "", nil, err
	}
	for i := range existing {
		if existing[i].DuplicateKey() == entry.DuplicateKey() {
			return true, models.LogLevelInfo, "duplicate entry skipped", models.LogDetails{
				"existing_entry_id": existing[i].ID,
			}, nil
		}
	}

	dayCtx := models.DayContext{}
	if s.calendar != nil {
		dayCtx, err = s.calendar.DayContext(ctx, evalDate)
		if err != nil {
			return false, "", "", nil, fmt.Errorf("load calendar context: %w", err)
		}
	}
	all := append(append([]models.ScheduleEntry{}, existing...), *entry)
	reports, err := s.detector.Detect(all, evalDate, dayCtx)
	if err != nil {
		return false, "", "", nil, err
	}
	for _, report := range reports {
		if report.References(entry.ID) && report.Severity.Blocking() {
			return false, models.LogLevelError, "entry rejected by conflict detection", models.LogDetails{
				"conflict_type": string(report.ConflictType),
				"severity":      string(report.Severity),
				"conflicts":     reports,
			}, nil
		}
	}

	inserted, err := s.entries.CreateTx(ctx, tx, entry)
	if err != nil {
		return false, "", "", nil, fmt.Errorf("insert entry: %w", err)
	}
	if !inserted {
		return true, models.LogLevelInfo, "duplicate entry skipped", models.LogDetails{
			"entry_id": entry.ID,
		}, nil
	}
	details := models.LogDetails{
		"entry_id": entry.ID,
		"batch_id": entry.BatchID,
	}
	if len(reports) > 0 {
		details["warnings"] = reports
	}
	return true, models.LogLevelInfo, "entry created", details, nil
}

func (s *OperationService) deleteItem(ctx context.Context, tx *sqlx.Tx, item models.OperationItem) (bool, models.LogLevel, string, models.LogDetails, error) {
	if item.EntryID == "" {
		return false, models.LogLevelError, "item has no entry id", nil, nil
	}
	if _, err := s.entries.FindByID(ctx, item.EntryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, models.LogLevelWarn, "entry not found", models.LogDetails{
				"entry_id": item.EntryID,
			}, nil
		}
		return false, "", "", nil, fmt.Errorf("load entry: %w", err)
	}
	if err := s.entries.DeactivateTx(ctx, tx, item.EntryID); err != nil {
		return false, "", "", nil, fmt.Errorf("deactivate entry: %w", err)
	}
	return true, models.LogLevelInfo, "entry deactivated", models.LogDetails{
		"entry_id": item.EntryID,
	}, nil
}

func (s *OperationService) neighbours(ctx context.Context, entry *models.ScheduleEntry, date time.Time) ([]models.ScheduleEntry, error) {
	batchEntries, err := s.entries.FindActiveForBatchOnDate(ctx, entry.BatchID, date)
	if err != nil {
		return nil, fmt.Errorf("load batch schedule: %w", err)
	}
	facultyEntries, err := s.entries.FindActiveForFacultyOnDate(ctx, entry.FacultyID, date)
	if err != nil {
		return nil, fmt.Errorf("load faculty schedule: %w", err)
	}
	seen := make(map[string]bool)
	merged := make([]models.ScheduleEntry, 0, len(batchEntries)+len(facultyEntries))
	for _, list := range [][]models.ScheduleEntry{batchEntries, facultyEntries} {
		for _, e := range list {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	return merged, nil
}

func (s *OperationService) appendMilestone(ctx context.Context, operationID string, level models.LogLevel, message string, details models.LogDetails) {
	entry := &models.OperationLogEntry{
		ID:          uuid.NewString(),
		OperationID: operationID,
		Level:       level,
		Message:     message,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append milestone log",
			zap.String("operation_id", operationID),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

func (s *OperationService) invalidateStatus(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, operationStatusCachePrefix+id); err != nil {
		s.logger.Debug("failed to invalidate status cache", zap.String("operation_id", id), zap.Error(err))
	}
}

func (s *OperationService) observeFinished(kind models.OperationKind, status models.OperationStatus) {
	if s.metrics != nil {
		s.metrics.ObserveOperationFinished(string(kind), string(status))
	}
}
