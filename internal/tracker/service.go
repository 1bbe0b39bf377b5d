// Package tracker wires normalization, classification, and the log store into
// the classify-and-log pipeline and serves the derived read views.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gutlog/backend/internal/classifier"
	"github.com/gutlog/backend/internal/imaging"
	"github.com/gutlog/backend/internal/metrics"
	"github.com/gutlog/backend/internal/stats"
	"github.com/gutlog/backend/internal/storage/models"
	"github.com/gutlog/backend/internal/tips"
	"github.com/gutlog/backend/pkg/logger"
)

// LogStore persists classifications and answers the read-side queries.
type LogStore interface {
	Insert(ctx context.Context, label string, confidence float64, imagePath string) (*models.LogEntry, error)
	ListAll(ctx context.Context) ([]models.LogEntry, error)
	ListSince(ctx context.Context, windowStart time.Time) ([]models.LogEntry, error)
	CountsByDay(ctx context.Context) ([]models.DayCount, error)
	MostRecentOnDay(ctx context.Context, date time.Time) (*models.LogEntry, error)
}

type Normalizer interface {
	Normalize(data []byte) (*imaging.Tensor, error)
}

type Classifier interface {
	Classify(ctx context.Context, input *imaging.Tensor) (*classifier.Result, error)
}

// ViewCache stores rendered read views. Failures are logged and ignored.
type ViewCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	normalizer Normalizer
	classifier Classifier
	store      LogStore
	cache      ViewCache
	loc        *time.Location
}

type Option func(*Service)

func WithCache(cache ViewCache) Option {
	return func(s *Service) { s.cache = cache }
}

func NewService(normalizer Normalizer, clf Classifier, store LogStore, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		normalizer: normalizer,
		classifier: clf,
		store:      store,
		loc:        loc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// ClassifyAndLog runs the full pipeline. A Prediction is only returned once
// the log row is durable.
func (s *Service) ClassifyAndLog(ctx context.Context, image []byte, displayRef string) (*models.Prediction, error) {
	requestID := uuid.NewString()

	start := time.Now()
	tensor, err := s.normalizer.Normalize(image)
	metrics.StageDuration.WithLabelValues(metrics.StageNormalize).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassifyOutcomes.WithLabelValues(metrics.OutcomeDecodeError).Inc()
		logger.Warn("Rejected undecodable image", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("normalize image: %w", err)
	}

	start = time.Now()
	result, err := s.classifier.Classify(ctx, tensor)
	metrics.StageDuration.WithLabelValues(metrics.StageInference).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassifyOutcomes.WithLabelValues(metrics.OutcomeModelError).Inc()
		logger.Error("Classification failed", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("classify image: %w", err)
	}

	start = time.Now()
	entry, err := s.store.Insert(ctx, result.Label, result.Confidence, displayRef)
	metrics.StageDuration.WithLabelValues(metrics.StageInsert).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassifyOutcomes.WithLabelValues(metrics.OutcomeStoreError).Inc()
		logger.Error("Failed to log classification",
			zap.String("request_id", requestID),
			zap.String("label", result.Label),
			zap.Error(err),
		)
		return nil, fmt.Errorf("log classification: %w", err)
	}

	metrics.ClassifyOutcomes.WithLabelValues(metrics.OutcomeLogged).Inc()
	metrics.ClassificationsTotal.WithLabelValues(entry.Label).Inc()
	metrics.ConfidenceScore.Observe(entry.Confidence)

	s.invalidateViews(ctx)

	logger.Info("Classification logged",
		zap.String("request_id", requestID),
		zap.Int64("log_id", entry.ID),
		zap.String("label", entry.Label),
		zap.Float64("confidence", entry.Confidence),
	)

	return &models.Prediction{
		ID:         entry.ID,
		Label:      entry.Label,
		Confidence: RoundConfidence(entry.Confidence),
		ImageURL:   entry.ImagePath,
	}, nil
}

// RoundConfidence rounds to four decimal places for display.
func RoundConfidence(c float64) float64 {
	return math.Round(c*1e4) / 1e4
}

// History returns every log, newest first.
func (s *Service) History(ctx context.Context) ([]models.LogEntry, error) {
	entries, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// WeeklyView returns the dense seven-day view ending at now.
func (s *Service) WeeklyView(ctx context.Context, now time.Time) ([]models.WeeklyDay, error) {
	key := "weekly:" + now.In(s.loc).Format(models.DayLayout)

	var week []models.WeeklyDay
	if s.cachedView(ctx, key, "weekly", &week) {
		return week, nil
	}

	entries, err := s.store.ListSince(ctx, stats.WeekWindowStart(now, s.loc))
	if err != nil {
		return nil, fmt.Errorf("list week: %w", err)
	}

	week = stats.WeeklyView(now, s.loc, entries)
	s.storeView(ctx, key, week)
	return week, nil
}

// CalendarCounts returns the sparse day -> count map over all history.
func (s *Service) CalendarCounts(ctx context.Context) (map[string]int, error) {
	const key = "calendar"

	var counts map[string]int
	if s.cachedView(ctx, key, "calendar", &counts) {
		return counts, nil
	}

	rows, err := s.store.CountsByDay(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by day: %w", err)
	}

	counts = stats.CalendarCounts(rows)
	s.storeView(ctx, key, counts)
	return counts, nil
}

// DailyTip judges the most recent log from the day before now.
func (s *Service) DailyTip(ctx context.Context, now time.Time) (models.Tip, error) {
	yesterday := stats.StartOfDay(now, s.loc).AddDate(0, 0, -1)
	key := "tip:" + yesterday.Format(models.DayLayout)

	var tip models.Tip
	if s.cachedView(ctx, key, "tip", &tip) {
		return tip, nil
	}

	entry, err := s.store.MostRecentOnDay(ctx, yesterday)
	if err != nil {
		return models.Tip{}, fmt.Errorf("load yesterday: %w", err)
	}

	tip = tips.ForLog(entry)
	s.storeView(ctx, key, tip)
	return tip, nil
}

func (s *Service) cachedView(ctx context.Context, key, view string, dst any) bool {
	if s.cache == nil {
		return false
	}

	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		logger.Warn("View cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if hit {
		metrics.CacheHits.WithLabelValues(view).Inc()
		return true
	}
	metrics.CacheMisses.WithLabelValues(view).Inc()
	return false
}

func (s *Service) storeView(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		logger.Warn("View cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) invalidateViews(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		logger.Warn("View cache invalidation failed", zap.Error(err))
	}
}

// IsClientError reports whether err was caused by the submitted image.
func IsClientError(err error) bool {
	return errors.Is(err, imaging.ErrDecode)
}
