package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	"github.com/noah-isme/batch-scheduler-api/pkg/config"
	appErrors "github.com/noah-isme/batch-scheduler-api/pkg/errors"
	"github.com/noah-isme/batch-scheduler-api/pkg/jobs"
)

type mockOpStore struct {
	ops      map[string]*models.BulkOperation
	onRecord func(processed int)
}

func newMockOpStore(ops ...*models.BulkOperation) *mockOpStore {
	store := &mockOpStore{ops: make(map[string]*models.BulkOperation)}
	for _, op := range ops {
		cp := *op
		store.ops[op.ID] = &cp
	}
	return store
}

func (m *mockOpStore) Create(ctx context.Context, op *models.BulkOperation) error {
	op.Status = models.OperationStatusPending
	op.TotalItems = len(op.Items)
	op.CreatedAt = time.Now().UTC()
	op.UpdatedAt = op.CreatedAt
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *mockOpStore) GetByID(ctx context.Context, id string) (*models.BulkOperation, error) {
	if op, ok := m.ops[id]; ok {
		cp := *op
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockOpStore) List(ctx context.Context, filter models.OperationFilter) ([]models.BulkOperation, int, error) {
	var out []models.BulkOperation
	for _, op := range m.ops {
		out = append(out, *op)
	}
	return out, len(out), nil
}

func (m *mockOpStore) TransitionStatus(ctx context.Context, id string, from, to models.OperationStatus) error {
	op, ok := m.ops[id]
	if !ok || op.Status != from {
		return sql.ErrNoRows
	}
	op.Status = to
	op.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockOpStore) SetStatus(ctx context.Context, id string, status models.OperationStatus) error {
	if op, ok := m.ops[id]; ok {
		op.Status = status
	}
	return nil
}

func (m *mockOpStore) RecordItemTx(ctx context.Context, tx *sqlx.Tx, id string, succeeded bool) error {
	op := m.ops[id]
	op.ProcessedItems++
	if succeeded {
		op.SucceededItems++
	} else {
		op.FailedItems++
	}
	if m.onRecord != nil {
		m.onRecord(op.ProcessedItems)
	}
	return nil
}

func (m *mockOpStore) ListResumable(ctx context.Context, limit int) ([]models.BulkOperation, error) {
	var out []models.BulkOperation
	for _, op := range m.ops {
		if op.Status == models.OperationStatusPending || op.Status == models.OperationStatusRunning {
			out = append(out, *op)
		}
	}
	return out, nil
}

type mockLogWriter struct {
	entries []models.OperationLogEntry
}

func (m *mockLogWriter) Append(ctx context.Context, entry *models.OperationLogEntry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockLogWriter) AppendTx(ctx context.Context, tx *sqlx.Tx, entry *models.OperationLogEntry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockLogWriter) messages() []string {
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Message)
	}
	return out
}

type mockOpEntryStore struct {
	*mockEntryStore
}

func (m *mockOpEntryStore) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.ScheduleEntry) (bool, error) {
	return m.Create(ctx, entry)
}

func (m *mockOpEntryStore) DeactivateTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	return m.Deactivate(ctx, id)
}

func newOperationHarness(t *testing.T, store *mockOpStore, entries *mockOpEntryStore) (*OperationService, *mockLogWriter, sqlmock.Sqlmock, func()) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	db := sqlx.NewDb(rawDB, "sqlmock")

	logs := &mockLogWriter{}
	svc := NewOperationService(db, store, logs, entries, newMockSlotReader(), &mockCalendar{}, nil, nil, nil, nil, nil, config.OperationsConfig{MaxItems: 100})
	return svc, logs, mock, func() { rawDB.Close() }
}

func mondayItem(t *testing.T, id, batch, faculty, slot, start, end string) models.OperationItem {
	t.Helper()
	monday := dateOn(t, "2026-01-05")
	entry := entryAt(id, batch, faculty, slot, start, end, models.Monday)
	entry.OccursOn = &monday
	return models.OperationItem{Entry: &entry}
}

func pendingOperation(id string, kind models.OperationKind, items ...models.OperationItem) *models.BulkOperation {
	for i := range items {
		items[i].Index = i
	}
	return &models.BulkOperation{
		ID:          id,
		InitiatorID: "scheduler-1",
		Kind:        kind,
		Status:      models.OperationStatusPending,
		Items:       models.OperationItems(items),
		TotalItems:  len(items),
	}
}

func expectItemTransactions(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func TestOperationServiceCreateExpandsTemplateApply(t *testing.T) {
	store := newMockOpStore()
	svc, logs, _, cleanup := newOperationHarness(t, store, &mockOpEntryStore{newMockEntryStore()})
	defer cleanup()

	op, err := svc.Create(context.Background(), "scheduler-1", dto.CreateOperationRequest{
		Kind: "TEMPLATE_APPLY",
		Entries: []dto.ScheduleEntryRequest{
			{BatchID: "b1", FacultyID: "f1", TimeSlotID: "s1", DayOfWeek: "MONDAY"},
			{BatchID: "b1", FacultyID: "f2", TimeSlotID: "s2", DayOfWeek: "MONDAY"},
		},
		Dates: []string{"2026-01-05", "2026-01-12"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusPending, op.Status)
	assert.Equal(t, 4, op.TotalItems)
	for _, item := range op.Items {
		require.NotNil(t, item.Entry.OccursOn)
		assert.Equal(t, models.Monday, item.Entry.DayOfWeek)
	}
	assert.Contains(t, logs.messages(), "operation accepted")
}

func TestOperationServiceCreateRejectsUnknownKind(t *testing.T) {
	svc, _, _, cleanup := newOperationHarness(t, newMockOpStore(), &mockOpEntryStore{newMockEntryStore()})
	defer cleanup()

	_, err := svc.Create(context.Background(), "scheduler-1", dto.CreateOperationRequest{Kind: "REINDEX"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOperationServiceCreateEnforcesItemLimit(t *testing.T) {
	store := newMockOpStore()
	svc, _, _, cleanup := newOperationHarness(t, store, &mockOpEntryStore{newMockEntryStore()})
	defer cleanup()
	svc.cfg.MaxItems = 2

	entries := make([]dto.ScheduleEntryRequest, 3)
	for i := range entries {
		entries[i] = dto.ScheduleEntryRequest{BatchID: "b1", FacultyID: "f1", TimeSlotID: "s1", DayOfWeek: "MONDAY"}
	}
	_, err := svc.Create(context.Background(), "scheduler-1", dto.CreateOperationRequest{Kind: "MASS_CREATE", Entries: entries})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOperationServiceRunCompletesWithMixedOutcomes(t *testing.T) {
	entryStore := &mockOpEntryStore{newMockEntryStore()}
	op := pendingOperation("op1", models.OperationKindMassCreate,
		mondayItem(t, "i1", "b1", "f1", "s1", "09:00", "10:00"),
		// Overlaps i1 for the same batch: rejected by within-operation detection.
		mondayItem(t, "i2", "b1", "f2", "s3", "09:30", "10:30"),
		// Exact duplicate of i1: a no-op counted as succeeded.
		mondayItem(t, "i3", "b1", "f1", "s1", "09:00", "10:00"),
	)
	store := newMockOpStore(op)
	svc, logs, mock, cleanup := newOperationHarness(t, store, entryStore)
	defer cleanup()
	expectItemTransactions(mock, 3)

	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))

	final, err := store.GetByID(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCompleted, final.Status)
	assert.Equal(t, 3, final.ProcessedItems)
	assert.Equal(t, 2, final.SucceededItems)
	assert.Equal(t, 1, final.FailedItems)
	assert.Equal(t, final.ProcessedItems, final.SucceededItems+final.FailedItems)

	// Only the first entry is committed; the duplicate is skipped.
	assert.Len(t, entryStore.inserted, 1)
	messages := logs.messages()
	assert.Contains(t, messages, "operation started")
	assert.Contains(t, messages, "entry created")
	assert.Contains(t, messages, "entry rejected by conflict detection")
	assert.Contains(t, messages, "duplicate entry skipped")
	assert.Contains(t, messages, "operation completed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationServiceLargeImportSurvivesOneRejectedItem(t *testing.T) {
	entryStore := &mockOpEntryStore{newMockEntryStore()}
	items := make([]models.OperationItem, 0, 50)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("i%d", i)
		batch := fmt.Sprintf("b%d", i)
		if i == 23 {
			// Same batch and overlapping slot as item 22: a blocking conflict.
			batch = "b22"
			items = append(items, mondayItem(t, id, batch, fmt.Sprintf("f%d", i), "s3", "09:30", "10:30"))
			continue
		}
		items = append(items, mondayItem(t, id, batch, fmt.Sprintf("f%d", i), "s1", "09:00", "10:00"))
	}
	op := pendingOperation("op1", models.OperationKindImport, items...)
	store := newMockOpStore(op)
	svc, logs, mock, cleanup := newOperationHarness(t, store, entryStore)
	defer cleanup()
	expectItemTransactions(mock, 50)

	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))

	final, err := store.GetByID(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCompleted, final.Status)
	assert.Equal(t, 50, final.ProcessedItems)
	assert.Equal(t, 49, final.SucceededItems)
	assert.Equal(t, 1, final.FailedItems)
	assert.Len(t, entryStore.inserted, 49)

	var errored []models.OperationLogEntry
	for _, e := range logs.entries {
		if e.Level == models.LogLevelError {
			errored = append(errored, e)
		}
	}
	require.Len(t, errored, 1)
	assert.Equal(t, 23, errored[0].Details["item_index"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationServiceCancelTakesEffectAtItemBoundary(t *testing.T) {
	entryStore := &mockOpEntryStore{newMockEntryStore()}
	op := pendingOperation("op1", models.OperationKindMassCreate,
		mondayItem(t, "i1", "b1", "f1", "s1", "09:00", "10:00"),
		mondayItem(t, "i2", "b2", "f2", "s1", "09:00", "10:00"),
		mondayItem(t, "i3", "b3", "f3", "s1", "09:00", "10:00"),
		mondayItem(t, "i4", "b4", "f4", "s1", "09:00", "10:00"),
	)
	store := newMockOpStore(op)
	svc, logs, mock, cleanup := newOperationHarness(t, store, entryStore)
	defer cleanup()
	expectItemTransactions(mock, 2)

	store.onRecord = func(processed int) {
		if processed == 2 {
			svc.hub.requestCancel("op1")
		}
	}

	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))

	final, err := store.GetByID(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCancelled, final.Status)
	assert.Equal(t, 2, final.ProcessedItems)
	assert.Len(t, entryStore.inserted, 2)

	// The trail holds one entry per processed item plus a single
	// cancellation milestone; nothing is written for the unprocessed items.
	itemEntries, cancelled := 0, 0
	for _, e := range logs.entries {
		if _, ok := e.Details["item_index"]; ok {
			itemEntries++
		}
		if e.Message == "operation cancelled" {
			cancelled++
		}
	}
	assert.Equal(t, 2, itemEntries)
	assert.Equal(t, 1, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationServicePauseThenResumeContinuesFromOffset(t *testing.T) {
	entryStore := &mockOpEntryStore{newMockEntryStore()}
	op := pendingOperation("op1", models.OperationKindMassCreate,
		mondayItem(t, "i1", "b1", "f1", "s1", "09:00", "10:00"),
		mondayItem(t, "i2", "b2", "f2", "s1", "09:00", "10:00"),
		mondayItem(t, "i3", "b3", "f3", "s1", "09:00", "10:00"),
	)
	store := newMockOpStore(op)
	svc, logs, mock, cleanup := newOperationHarness(t, store, entryStore)
	defer cleanup()
	expectItemTransactions(mock, 3)

	store.onRecord = func(processed int) {
		if processed == 1 {
			svc.hub.requestPause("op1")
		}
	}
	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))

	paused, err := store.GetByID(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusPaused, paused.Status)
	assert.Equal(t, 1, paused.ProcessedItems)
	assert.Contains(t, logs.messages(), "operation paused")

	// Resume moves the record back to RUNNING; the next run picks up at the
	// persisted offset instead of replaying committed items.
	store.onRecord = nil
	admin := &models.User{ID: "admin-1", Role: models.RoleAdmin}
	_, err = svc.Resume(context.Background(), "op1", admin)
	require.NoError(t, err)

	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))

	final, err := store.GetByID(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCompleted, final.Status)
	assert.Equal(t, 3, final.ProcessedItems)
	assert.Equal(t, 3, final.SucceededItems)
	assert.Len(t, entryStore.inserted, 3)

	// An ordinary resume is not a crash recovery and must not be recorded
	// as one in the trail.
	messages := logs.messages()
	assert.Contains(t, messages, "operation resumed")
	assert.NotContains(t, messages, "operation recovered after interruption")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationServiceRecoveryMilestoneAfterInterruption(t *testing.T) {
	entryStore := &mockOpEntryStore{newMockEntryStore()}
	op := pendingOperation("op1", models.OperationKindMassCreate,
		mondayItem(t, "i1", "b1", "f1", "s1", "09:00", "10:00"),
		mondayItem(t, "i2", "b2", "f2", "s1", "09:00", "10:00"),
	)
	// The previous process died after committing item 0.
	op.Status = models.OperationStatusRunning
	op.ProcessedItems = 1
	op.SucceededItems = 1
	store := newMockOpStore(op)
	svc, logs, mock, cleanup := newOperationHarness(t, store, entryStore)
	defer cleanup()
	expectItemTransactions(mock, 1)

	job := jobFor(op)
	job.Recovery = true
	require.NoError(t, svc.handleJob(context.Background(), job))

	final, err := store.GetByID(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedItems)
	assert.Equal(t, 2, final.SucceededItems)
	assert.Contains(t, logs.messages(), "operation recovered after interruption")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationServicePauseRequiresAdminAndRunningState(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate,
		mondayItem(t, "i1", "b1", "f1", "s1", "09:00", "10:00"),
	)
	store := newMockOpStore(op)
	svc, _, _, cleanup := newOperationHarness(t, store, &mockOpEntryStore{newMockEntryStore()})
	defer cleanup()

	scheduler := &models.User{ID: "scheduler-1", Role: models.RoleScheduler}
	admin := &models.User{ID: "admin-1", Role: models.RoleAdmin}

	_, err := svc.Pause(context.Background(), "op1", scheduler)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// PENDING cannot be paused, only RUNNING can.
	_, err = svc.Pause(context.Background(), "op1", admin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	store.ops["op1"].Status = models.OperationStatusRunning
	_, err = svc.Pause(context.Background(), "op1", admin)
	require.NoError(t, err)
	assert.True(t, svc.hub.snapshot("op1").pause)
}

func TestOperationServiceCancelPermissionsAndStates(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate,
		mondayItem(t, "i1", "b1", "f1", "s1", "09:00", "10:00"),
	)
	op.Status = models.OperationStatusPaused
	store := newMockOpStore(op)
	svc, logs, _, cleanup := newOperationHarness(t, store, &mockOpEntryStore{newMockEntryStore()})
	defer cleanup()

	stranger := &models.User{ID: "other", Role: models.RoleScheduler}
	_, err := svc.Cancel(context.Background(), "op1", stranger)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// The initiator may cancel; a paused operation cancels immediately.
	initiator := &models.User{ID: "scheduler-1", Role: models.RoleScheduler}
	result, err := svc.Cancel(context.Background(), "op1", initiator)
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCancelled, result.Status)
	assert.Contains(t, logs.messages(), "operation cancelled")

	// Terminal states reject further control.
	_, err = svc.Cancel(context.Background(), "op1", initiator)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestOperationServiceMassDelete(t *testing.T) {
	existing := entryAt("e1", "b1", "f1", "s1", "09:00", "10:00", models.Monday)
	entryStore := &mockOpEntryStore{newMockEntryStore(existing)}
	op := pendingOperation("op1", models.OperationKindMassDelete,
		models.OperationItem{EntryID: "e1"},
		models.OperationItem{EntryID: "missing"},
	)
	store := newMockOpStore(op)
	svc, logs, mock, cleanup := newOperationHarness(t, store, entryStore)
	defer cleanup()
	expectItemTransactions(mock, 2)

	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))

	final, err := store.GetByID(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCompleted, final.Status)
	assert.Equal(t, 1, final.SucceededItems)
	assert.Equal(t, 1, final.FailedItems)
	assert.Equal(t, []string{"e1"}, entryStore.removed)
	assert.Contains(t, logs.messages(), "entry not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationServiceHandleJobSkipsTerminalOperations(t *testing.T) {
	op := pendingOperation("op1", models.OperationKindMassCreate,
		mondayItem(t, "i1", "b1", "f1", "s1", "09:00", "10:00"),
	)
	op.Status = models.OperationStatusCompleted
	store := newMockOpStore(op)
	svc, logs, _, cleanup := newOperationHarness(t, store, &mockOpEntryStore{newMockEntryStore()})
	defer cleanup()

	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))
	assert.Empty(t, logs.entries)
}

type recordingEntryStore struct {
	*mockOpEntryStore
	batchDates []time.Time
}

func (r *recordingEntryStore) FindActiveForBatchOnDate(ctx context.Context, batchID string, date time.Time) ([]models.ScheduleEntry, error) {
	r.batchDates = append(r.batchDates, date)
	return r.mockOpEntryStore.FindActiveForBatchOnDate(ctx, batchID, date)
}

func TestOperationServiceRecurringItemChecksConflictsAtMidnight(t *testing.T) {
	entryStore := &recordingEntryStore{mockOpEntryStore: &mockOpEntryStore{newMockEntryStore()}}
	// Recurring template, no occurrence date.
	entry := entryAt("i1", "b1", "f1", "s1", "09:00", "10:00", models.Monday)
	op := pendingOperation("op1", models.OperationKindMassCreate, models.OperationItem{Entry: &entry})
	store := newMockOpStore(op)

	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer rawDB.Close()
	db := sqlx.NewDb(rawDB, "sqlmock")
	logs := &mockLogWriter{}
	svc := NewOperationService(db, store, logs, entryStore, newMockSlotReader(), &mockCalendar{}, nil, nil, nil, nil, nil, config.OperationsConfig{MaxItems: 100})
	expectItemTransactions(mock, 1)

	require.NoError(t, svc.handleJob(context.Background(), jobFor(op)))

	// Stored occurrence dates are matched by equality in the repository, so
	// the lookup date must be midnight on the entry's weekday or every
	// date-specific entry is invisible to the conflict pass.
	require.NotEmpty(t, entryStore.batchDates)
	for _, d := range entryStore.batchDates {
		assert.True(t, d.Equal(d.Truncate(24*time.Hour)), "lookup date %v carries time-of-day", d)
		assert.Equal(t, models.Monday, models.DayOfWeekFromTime(d))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func jobFor(op *models.BulkOperation) jobs.Job {
	return jobs.Job{ID: op.ID, Type: string(op.Kind)}
}
