package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gutlog/backend/internal/imaging"
	"github.com/gutlog/backend/internal/storage/models"
	"github.com/gutlog/backend/internal/storage/sqlite"
	"github.com/gutlog/backend/internal/storage/uploads"
)

type fakeTracker struct {
	err      error
	lastRef  string
	lastNow  time.Time
	entries  []models.LogEntry
	week     []models.WeeklyDay
	counts   map[string]int
	tip      models.Tip
	predicts int
}

func (f *fakeTracker) ClassifyAndLog(_ context.Context, _ []byte, ref string) (*models.Prediction, error) {
	f.predicts++
	f.lastRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return &models.Prediction{ID: 7, Label: "Healthy", Confidence: 0.9412, ImageURL: ref}, nil
}

func (f *fakeTracker) History(_ context.Context) ([]models.LogEntry, error) {
	return f.entries, f.err
}

func (f *fakeTracker) WeeklyView(_ context.Context, now time.Time) ([]models.WeeklyDay, error) {
	f.lastNow = now
	return f.week, f.err
}

func (f *fakeTracker) CalendarCounts(_ context.Context) (map[string]int, error) {
	return f.counts, f.err
}

func (f *fakeTracker) DailyTip(_ context.Context, now time.Time) (models.Tip, error) {
	f.lastNow = now
	return f.tip, f.err
}

func newTestApp(t *testing.T, tr *fakeTracker) (*fiber.App, *uploads.Store) {
	t.Helper()

	store, err := uploads.NewStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	fixed := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	predict := NewPredictHandler(tr, store)
	predict.now = func() time.Time { return fixed }
	views := NewViewsHandler(tr)
	views.now = func() time.Time { return fixed }

	app := fiber.New()
	app.Post("/predict", predict.Predict)
	app.Get("/history", views.History)
	app.Get("/stats/weekly", views.Weekly)
	app.Get("/stats/calendar", views.Calendar)
	app.Get("/tips", views.Tip)
	return app, store
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decode(t *testing.T, body io.Reader, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(body).Decode(dst))
}

func storedFiles(t *testing.T, store *uploads.Store) int {
	t.Helper()
	files, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	return len(files)
}

func TestPredict_Success(t *testing.T) {
	tr := &fakeTracker{}
	app, store := newTestApp(t, tr)

	body, ct := multipartBody(t, "file", "stool.png", []byte("png-bytes"))
	req := httptest.NewRequest("POST", "/predict", body)
	req.Header.Set("Content-Type", ct)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var got map[string]any
	decode(t, resp.Body, &got)
	assert.Equal(t, "Healthy", got["prediction"])
	assert.Equal(t, 0.9412, got["confidence"])
	assert.Equal(t, float64(7), got["id"])
	assert.Regexp(t, `^/uploads/20250115_090000_[0-9a-f]{12}_[0-9a-f]{8}\.png$`, got["image_url"])
	assert.Equal(t, tr.lastRef, got["image_url"])
	assert.Equal(t, 1, storedFiles(t, store))
}

func TestPredict_MissingFile(t *testing.T) {
	tr := &fakeTracker{}
	app, _ := newTestApp(t, tr)

	body, ct := multipartBody(t, "other", "x.png", []byte("x"))
	req := httptest.NewRequest("POST", "/predict", body)
	req.Header.Set("Content-Type", ct)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, tr.predicts)
}

func TestPredict_FailureRemovesUpload(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"undecodable image", fmt.Errorf("normalize image: %w", imaging.ErrDecode), fiber.StatusBadRequest},
		{"store unavailable", fmt.Errorf("log classification: %w", sqlite.ErrStoreUnavailable), fiber.StatusServiceUnavailable},
		{"model failure", fmt.Errorf("classify image: boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTracker{err: tt.err}
			app, store := newTestApp(t, tr)

			body, ct := multipartBody(t, "file", "stool.jpg", []byte("bytes"))
			req := httptest.NewRequest("POST", "/predict", body)
			req.Header.Set("Content-Type", ct)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var got map[string]any
			decode(t, resp.Body, &got)
			assert.NotEmpty(t, got["error"])
			assert.NotContains(t, got, "prediction")
			assert.Equal(t, 0, storedFiles(t, store))
		})
	}
}

func TestViews(t *testing.T) {
	tr := &fakeTracker{
		entries: []models.LogEntry{{ID: 2, Label: "Diarrhea"}, {ID: 1, Label: "Healthy"}},
		week:    []models.WeeklyDay{{Date: "Jan 15, 2025", Day: "2025-01-15", Label: "No log"}},
		counts:  map[string]int{"2025-01-10": 3},
		tip:     models.Tip{Status: "Healthy", Tip: "Good job"},
	}
	app, _ := newTestApp(t, tr)

	resp, err := app.Test(httptest.NewRequest("GET", "/history", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var history []models.LogEntry
	decode(t, resp.Body, &history)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].ID)

	resp, err = app.Test(httptest.NewRequest("GET", "/stats/weekly", nil))
	require.NoError(t, err)
	var weekly struct {
		WeekLogs []map[string]any `json:"week_logs"`
	}
	decode(t, resp.Body, &weekly)
	require.Len(t, weekly.WeekLogs, 1)
	assert.Equal(t, false, weekly.WeekLogs[0]["has_log"])
	assert.NotContains(t, weekly.WeekLogs[0], "time")
	assert.Equal(t, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC), tr.lastNow)

	resp, err = app.Test(httptest.NewRequest("GET", "/stats/calendar", nil))
	require.NoError(t, err)
	var counts map[string]int
	decode(t, resp.Body, &counts)
	assert.Equal(t, map[string]int{"2025-01-10": 3}, counts)

	resp, err = app.Test(httptest.NewRequest("GET", "/tips", nil))
	require.NoError(t, err)
	var tip models.Tip
	decode(t, resp.Body, &tip)
	assert.Equal(t, "Healthy", tip.Status)
}

func TestViews_StoreUnavailable(t *testing.T) {
	tr := &fakeTracker{err: fmt.Errorf("list history: %w", sqlite.ErrStoreUnavailable)}
	app, _ := newTestApp(t, tr)

	for _, path := range []string{"/history", "/stats/weekly", "/stats/calendar", "/tips"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestWebSocketView(t *testing.T) {
	tr := &fakeTracker{
		counts: map[string]int{"2025-01-10": 1},
		tip:    models.Tip{Status: "No data"},
	}
	h := NewWebSocketHandler(tr)
	ctx := context.Background()

	data, err := h.view(ctx, msgCalendar)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2025-01-10": 1}, data)

	data, err = h.view(ctx, msgTip)
	require.NoError(t, err)
	assert.Equal(t, models.Tip{Status: "No data"}, data)

	_, err = h.view(ctx, "query")
	assert.Error(t, err)
}

func TestWebSocketReply_HidesErrorDetail(t *testing.T) {
	tr := &fakeTracker{err: fmt.Errorf("list history: %w: database is locked", sqlite.ErrStoreUnavailable)}
	h := NewWebSocketHandler(tr)

	for _, kind := range []string{msgHistory, msgWeekly, msgCalendar, msgTip} {
		reply := h.reply(context.Background(), kind)
		assert.Equal(t, msgError, reply["type"], kind)
		assert.Equal(t, "Failed to load "+kind, reply["error"])
		assert.NotContains(t, reply["error"], "database")
		assert.NotContains(t, reply, "data")
	}

	reply := h.reply(context.Background(), "query")
	assert.Equal(t, "Unknown message type", reply["error"])
}

func TestWebSocketReply_Success(t *testing.T) {
	tr := &fakeTracker{entries: []models.LogEntry{{ID: 1, Label: "Healthy"}}}
	h := NewWebSocketHandler(tr)

	reply := h.reply(context.Background(), msgHistory)
	assert.Equal(t, msgHistory, reply["type"])
	assert.Equal(t, tr.entries, reply["data"])
}
