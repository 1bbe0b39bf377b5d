package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gutlog/backend/internal/classifier"
	"github.com/gutlog/backend/internal/imaging"
	"github.com/gutlog/backend/internal/storage/models"
	"github.com/gutlog/backend/internal/storage/sqlite"
	"github.com/gutlog/backend/internal/tips"
)

type fixedScorer struct {
	scores []float32
}

func (f *fixedScorer) Score(_ context.Context, _ *imaging.Tensor) ([]float32, error) {
	return f.scores, nil
}

func (f *fixedScorer) OutputSize() int { return len(f.scores) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type memCache struct {
	mu          sync.Mutex
	views       map[string][]byte
	invalidated int
	failing     bool
}

func newMemCache() *memCache {
	return &memCache{views: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return false, errors.New("cache down")
	}
	data, ok := m.views[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (m *memCache) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("cache down")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.views[key] = data
	return nil
}

func (m *memCache) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("cache down")
	}
	m.invalidated++
	m.views = make(map[string][]byte)
	return nil
}

var testLabels = []string{"Healthy", "Type 1 - Constipation", "Diarrhea"}

type fixture struct {
	svc    *Service
	store  *sqlite.Client
	scorer *fixedScorer
	clock  *clock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	clk := &clock{t: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "history.db"),
		sqlite.WithClock(clk.now),
		sqlite.WithLocation(time.UTC),
	)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	scorer := &fixedScorer{scores: []float32{240, 10, 5}}
	clf, err := classifier.New(scorer, testLabels, classifier.DefaultScoreScale)
	require.NoError(t, err)

	return &fixture{
		svc:    NewService(imaging.NewNormalizer(), clf, store, time.UTC, opts...),
		store:  store,
		scorer: scorer,
		clock:  clk,
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (f *fixture) logAt(t *testing.T, ts time.Time, scores ...float32) *models.Prediction {
	t.Helper()
	f.clock.set(ts)
	f.scorer.scores = scores
	p, err := f.svc.ClassifyAndLog(context.Background(), pngBytes(t), "/uploads/x.png")
	require.NoError(t, err)
	return p
}

func TestClassifyAndLog_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.ClassifyAndLog(ctx, pngBytes(t), "/uploads/20250115_090000_abc.png")
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, "Healthy", p.Label)
	assert.Equal(t, 0.9412, p.Confidence)
	assert.Equal(t, "/uploads/20250115_090000_abc.png", p.ImageURL)

	history, err := f.svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, p.ID, history[0].ID)
	assert.Equal(t, "Healthy", history[0].Label)
	assert.InDelta(t, 240.0/255.0, history[0].Confidence, 1e-9)
	assert.Equal(t, p.ImageURL, history[0].ImagePath)
}

func TestClassifyAndLog_DecodeErrorLogsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClassifyAndLog(ctx, []byte("not an image"), "/uploads/bad.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, imaging.ErrDecode)
	assert.True(t, IsClientError(err))

	history, err := f.svc.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestClassifyAndLog_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	p, err := f.svc.ClassifyAndLog(context.Background(), pngBytes(t), "/uploads/x.png")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, sqlite.ErrStoreUnavailable)
	assert.False(t, IsClientError(err))
}

func TestClassifyAndLog_ModelMismatch(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = []float32{1, 2}

	_, err := f.svc.ClassifyAndLog(context.Background(), pngBytes(t), "/uploads/x.png")
	assert.ErrorIs(t, err, classifier.ErrShapeMismatch)
}

func TestHistory_NewestFirst(t *testing.T) {
	f := newFixture(t)

	first := f.logAt(t, time.Date(2025, 1, 14, 8, 0, 0, 0, time.UTC), 200, 0, 0)
	second := f.logAt(t, time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC), 0, 0, 200)

	history, err := f.svc.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
	assert.Equal(t, "Diarrhea", history[0].Label)
}

func TestWeeklyView(t *testing.T) {
	f := newFixture(t)

	f.logAt(t, time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC), 240, 10, 5)
	f.logAt(t, time.Date(2025, 1, 13, 21, 5, 0, 0, time.UTC), 5, 240, 10)
	f.logAt(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), 5, 10, 240)
	f.logAt(t, time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC), 240, 0, 0)

	now := time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)
	week, err := f.svc.WeeklyView(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, week, 7)

	assert.Equal(t, "2025-01-15", week[0].Day)
	assert.Equal(t, "Jan 15, 2025", week[0].Date)
	assert.Equal(t, "Healthy", week[0].Label)
	assert.Equal(t, "08:30", week[0].Time)
	assert.True(t, week[0].HasLog)

	assert.Equal(t, "2025-01-13", week[2].Day)
	assert.Equal(t, "Type 1 - Constipation", week[2].Label)
	assert.Equal(t, "21:05", week[2].Time)

	assert.Equal(t, "2025-01-10", week[5].Day)
	assert.Equal(t, "Diarrhea", week[5].Label)

	assert.Equal(t, "2025-01-09", week[6].Day)
	assert.False(t, week[6].HasLog)
	assert.Equal(t, "No log", week[6].Label)
}

func TestCalendarCounts(t *testing.T) {
	f := newFixture(t)

	f.logAt(t, time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC), 240, 0, 0)
	f.logAt(t, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC), 240, 0, 0)
	f.logAt(t, time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC), 0, 240, 0)
	f.logAt(t, time.Date(2025, 1, 12, 8, 0, 0, 0, time.UTC), 240, 0, 0)

	counts, err := f.svc.CalendarCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2025-01-10": 3, "2025-01-12": 1}, counts)
}

func TestCalendarCounts_Empty(t *testing.T) {
	f := newFixture(t)

	counts, err := f.svc.CalendarCounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestDailyTip(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("no log yesterday", func(t *testing.T) {
		f := newFixture(t)
		f.logAt(t, time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC), 0, 240, 0)

		tip, err := f.svc.DailyTip(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, tips.StatusNoData, tip.Status)
	})

	t.Run("most recent log yesterday wins", func(t *testing.T) {
		f := newFixture(t)
		f.logAt(t, time.Date(2025, 1, 14, 7, 0, 0, 0, time.UTC), 240, 0, 0)
		f.logAt(t, time.Date(2025, 1, 14, 22, 0, 0, 0, time.UTC), 0, 240, 0)

		tip, err := f.svc.DailyTip(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, tips.StatusConstipation, tip.Status)
		assert.Equal(t, tips.ForLabel("Type 1 - Constipation"), tip)
	})
}

func TestViewCache_InvalidatedOnInsert(t *testing.T) {
	cache := newMemCache()
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	f.logAt(t, time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC), 240, 0, 0)
	assert.Equal(t, 1, cache.invalidated)

	counts, err := f.svc.CalendarCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2025-01-10": 1}, counts)
	assert.Contains(t, cache.views, "calendar")

	f.logAt(t, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC), 240, 0, 0)
	assert.Equal(t, 2, cache.invalidated)
	assert.NotContains(t, cache.views, "calendar")

	counts, err = f.svc.CalendarCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2025-01-10": 2}, counts)
}

func TestViewCache_ServesCachedView(t *testing.T) {
	cache := newMemCache()
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "tip:2025-01-14", models.Tip{Status: "cached", Tip: "from cache"}))

	tip, err := f.svc.DailyTip(ctx, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "cached", tip.Status)
}

func TestViewCache_FailuresAreIgnored(t *testing.T) {
	cache := newMemCache()
	cache.failing = true
	f := newFixture(t, WithCache(cache))

	p := f.logAt(t, time.Date(2025, 1, 14, 8, 0, 0, 0, time.UTC), 240, 0, 0)
	assert.Equal(t, "Healthy", p.Label)

	tip, err := f.svc.DailyTip(context.Background(), time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, tips.StatusHealthy, tip.Status)
}

func TestRoundConfidence(t *testing.T) {
	assert.Equal(t, 0.9412, RoundConfidence(240.0/255.0))
	assert.Equal(t, 1.0, RoundConfidence(1))
	assert.Equal(t, 0.0, RoundConfidence(0))
}
