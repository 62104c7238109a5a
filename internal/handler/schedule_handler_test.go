package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/batch-scheduler-api/internal/dto"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	"github.com/noah-isme/batch-scheduler-api/internal/service"
)

type entryStoreStub struct {
	items map[string]*models.ScheduleEntry
}

func newEntryStoreStub(entries ...models.ScheduleEntry) *entryStoreStub {
	stub := &entryStoreStub{items: make(map[string]*models.ScheduleEntry)}
	for i := range entries {
		cp := entries[i]
		stub.items[cp.ID] = &cp
	}
	return stub
}

func (s *entryStoreStub) List(ctx context.Context, filter models.ScheduleEntryFilter) ([]models.ScheduleEntry, int, error) {
	var out []models.ScheduleEntry
	for _, e := range s.items {
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (s *entryStoreStub) FindByID(ctx context.Context, id string) (*models.ScheduleEntry, error) {
	if e, ok := s.items[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (s *entryStoreStub) activeOn(date time.Time, match func(*models.ScheduleEntry) bool) []models.ScheduleEntry {
	day := models.DayOfWeekFromTime(date)
	var out []models.ScheduleEntry
	for _, e := range s.items {
		if !e.Active || !match(e) {
			continue
		}
		if e.OccursOn != nil {
			if e.OccursOn.Format("2006-01-02") == date.Format("2006-01-02") {
				out = append(out, *e)
			}
			continue
		}
		if e.DayOfWeek == day {
			out = append(out, *e)
		}
	}
	return out
}

func (s *entryStoreStub) FindActiveForBatchOnDate(ctx context.Context, batchID string, date time.Time) ([]models.ScheduleEntry, error) {
	return s.activeOn(date, func(e *models.ScheduleEntry) bool { return e.BatchID == batchID }), nil
}

func (s *entryStoreStub) FindActiveForFacultyOnDate(ctx context.Context, facultyID string, date time.Time) ([]models.ScheduleEntry, error) {
	return s.activeOn(date, func(e *models.ScheduleEntry) bool { return e.FacultyID == facultyID }), nil
}

func (s *entryStoreStub) Create(ctx context.Context, entry *models.ScheduleEntry) (bool, error) {
	for _, e := range s.items {
		if e.DuplicateKey() == entry.DuplicateKey() {
			return false, nil
		}
	}
	cp := *entry
	s.items[entry.ID] = &cp
	return true, nil
}

func (s *entryStoreStub) Update(ctx context.Context, entry *models.ScheduleEntry) error {
	cp := *entry
	s.items[entry.ID] = &cp
	return nil
}

func (s *entryStoreStub) Deactivate(ctx context.Context, id string) error {
	if e, ok := s.items[id]; ok {
		e.Active = false
	}
	return nil
}

type slotReaderStub struct{}

func (slotReaderStub) List(ctx context.Context) ([]models.TimeSlot, error) {
	return []models.TimeSlot{{ID: "s1", StartTime: "09:00", EndTime: "10:00"}}, nil
}

func (slotReaderStub) FindByID(ctx context.Context, id string) (*models.TimeSlot, error) {
	if id != "s1" {
		return nil, sql.ErrNoRows
	}
	return &models.TimeSlot{ID: "s1", StartTime: "09:00", EndTime: "10:00"}, nil
}

type calendarStub struct{}

func (calendarStub) DayContext(ctx context.Context, date time.Time) (models.DayContext, error) {
	return models.DayContext{}, nil
}

func newScheduleHandler(entries ...models.ScheduleEntry) *ScheduleHandler {
	svc := service.NewScheduleService(newEntryStoreStub(entries...), slotReaderStub{}, calendarStub{}, nil, nil, nil)
	return NewScheduleHandler(svc)
}

func postJSON(t *testing.T, handler gin.HandlerFunc, target string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	handler(c)
	return w
}

func TestScheduleHandlerCreate(t *testing.T) {
	handler := newScheduleHandler()

	w := postJSON(t, handler.Create, "/schedules", dto.ScheduleEntryRequest{
		BatchID:    "b1",
		FacultyID:  "f1",
		TimeSlotID: "s1",
		DayOfWeek:  "MONDAY",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data struct {
			Entry *models.ScheduleEntry `json:"entry"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Data.Entry)
	assert.Equal(t, "09:00", envelope.Data.Entry.StartTime)
	assert.Equal(t, models.Monday, envelope.Data.Entry.DayOfWeek)
}

func TestScheduleHandlerCreateConflictIncludesReports(t *testing.T) {
	existing := models.ScheduleEntry{
		ID: "e1", BatchID: "b1", FacultyID: "f2", TimeSlotID: "s1",
		StartTime: "09:00", EndTime: "10:00",
		DayOfWeek: models.Monday, EntryType: models.EntryTypeRegular, Active: true,
	}
	handler := newScheduleHandler(existing)

	w := postJSON(t, handler.Create, "/schedules", dto.ScheduleEntryRequest{
		BatchID:    "b1",
		FacultyID:  "f1",
		TimeSlotID: "s1",
		DayOfWeek:  "MONDAY",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
		Meta map[string]json.RawMessage `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "SCHEDULE_CONFLICT", envelope.Error.Code)
	assert.Contains(t, envelope.Meta, "conflicts")
}

func TestScheduleHandlerCreateInvalidBody(t *testing.T) {
	handler := newScheduleHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/schedules", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleHandlerCheckReportsWithoutPersisting(t *testing.T) {
	existing := models.ScheduleEntry{
		ID: "e1", BatchID: "b1", FacultyID: "f2", TimeSlotID: "s1",
		StartTime: "09:00", EndTime: "10:00",
		DayOfWeek: models.Monday, EntryType: models.EntryTypeRegular, Active: true,
	}
	handler := newScheduleHandler(existing)

	w := postJSON(t, handler.Check, "/schedules/check", dto.ConflictCheckRequest{
		Entry: dto.ScheduleEntryRequest{
			BatchID:    "b1",
			FacultyID:  "f1",
			TimeSlotID: "s1",
			DayOfWeek:  "MONDAY",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data dto.ConflictCheckResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.False(t, envelope.Data.CanCommit)
	assert.NotEmpty(t, envelope.Data.Conflicts)
}

func TestScheduleHandlerDayViewRequiresValidDate(t *testing.T) {
	handler := newScheduleHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/batches/b1/day?date=tomorrow", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "b1"}}

	handler.DayView(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
