// Package app builds the service graph from config in dependency order.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gutlog/backend/internal/cache/redis"
	"github.com/gutlog/backend/internal/classifier"
	"github.com/gutlog/backend/internal/imaging"
	"github.com/gutlog/backend/internal/metrics"
	"github.com/gutlog/backend/internal/storage/sqlite"
	"github.com/gutlog/backend/internal/storage/uploads"
	"github.com/gutlog/backend/internal/tracker"
	"github.com/gutlog/backend/pkg/config"
	"github.com/gutlog/backend/pkg/logger"
)

type App struct {
	Config   *config.Config
	Location *time.Location
	Tracker  *tracker.Service
	Uploads  *uploads.Store

	scorer *classifier.ONNXScorer
	store  *sqlite.Client
	cache  *redis.Client
}

// New loads the model and opens the stores. A label list that disagrees
// with the model output is fatal here, before any request is served.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	loc, err := cfg.App.Location()
	if err != nil {
		return nil, err
	}
	a.Location = loc

	labels, err := classifier.LoadLabels(cfg.Model.LabelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}

	scorer, err := classifier.NewONNXScorer(classifier.ONNXConfig{
		ModelPath:   cfg.Model.Path,
		LibraryPath: cfg.Model.LibraryPath,
		InputName:   cfg.Model.InputName,
		OutputName:  cfg.Model.OutputName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	a.scorer = scorer

	clf, err := classifier.New(scorer, labels, cfg.Model.ScoreScale)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	logger.Info("Classifier loaded",
		zap.String("model", cfg.Model.Path),
		zap.Strings("labels", clf.Labels()),
		zap.Float64("score_scale", clf.Scale()),
	)

	opts, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	normalizer := imaging.NewNormalizer(imaging.WithMaxPixels(cfg.Model.MaxImagePixels))
	a.Tracker = tracker.NewService(normalizer, clf, a.store, loc, opts...)

	return a, nil
}

// OpenReadOnly opens the stores without loading the model. The returned
// Tracker serves read views only.
func OpenReadOnly(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	loc, err := cfg.App.Location()
	if err != nil {
		return nil, err
	}
	a.Location = loc

	opts, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Tracker = tracker.NewService(nil, nil, a.store, loc, opts...)
	return a, nil
}

func (a *App) openStores(ctx context.Context) ([]tracker.Option, error) {
	cfg := a.Config

	var err error
	a.store, err = sqlite.NewClient(cfg.SQLite.Path, sqlite.WithLocation(a.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}
	if err := a.store.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	a.Uploads, err = uploads.NewStore(cfg.Uploads.Dir, cfg.Uploads.URLPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare uploads: %w", err)
	}

	if !cfg.Redis.Enabled {
		return nil, nil
	}

	a.cache, err = redis.NewClient(ctx, redis.Options{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      time.Duration(cfg.Redis.TTLSeconds) * time.Second,
	})
	if err != nil {
		logger.Warn("View cache disabled", zap.Error(err))
		a.cache = nil
		return nil, nil
	}
	return []tracker.Option{tracker.WithCache(a.cache)}, nil
}

func (a *App) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close log store", zap.Error(err))
		}
	}
	if a.scorer != nil {
		if err := a.scorer.Close(); err != nil {
			logger.Warn("Failed to release model session", zap.Error(err))
		}
	}
}
