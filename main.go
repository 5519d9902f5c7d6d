package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DatasetApp/app"
	"DatasetApp/catalog"
	"DatasetApp/config"
	"DatasetApp/dataset"
	iface "DatasetApp/interface"
	"DatasetApp/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	datasetPath = "/home/aubrey/Desktop/Guam07-merged_results/YOLO-prepped"
	datasetName = "Guam07-2025-10-09"
	datasetType = iface.YOLOv5Dataset
)

type loadFunc func(ctx context.Context, dir string, t iface.DatasetType, opts ...dataset.Option) (*dataset.Dataset, error)

type launchFunc func(ds *dataset.Dataset, cfg app.Config) (iface.Session, error)

func launchApp(ds *dataset.Dataset, cfg app.Config) (iface.Session, error) {
	s, err := app.LaunchApp(ds, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// run loads the dataset, serves it and blocks until the session ends.
func run(ctx context.Context, cfg config.Config, cat catalog.Catalog, load loadFunc, launch launchFunc) error {
	ds, err := load(ctx, datasetPath, datasetType,
		// dataset.WithName(datasetName),
		dataset.WithCatalog(cat),
		dataset.WithWorkers(cfg.LoadWorkers),
	)
	if err != nil {
		return fmt.Errorf("load dataset %s: %w", datasetPath, err)
	}

	appCfg := app.FromConfig(cfg)
	appCfg.Catalog = cat
	session, err := launch(ds, appCfg)
	if err != nil {
		return fmt.Errorf("launch app: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Log().Warn("Session close failed", zap.Error(err))
		}
	}()
	logger.Log().Info("Session ready", zap.String("session", session.ID()), zap.String("url", session.URL()))
	return session.Wait(ctx)
}

func openCatalog(ctx context.Context, c config.CatalogConfig) (catalog.Catalog, func(), error) {
	if c.MongoURI == "" {
		return catalog.Default(), func() {}, nil
	}
	mcfg := catalog.DefaultMongoConfig()
	mcfg.URI = c.MongoURI
	mcfg.Database = c.Database
	m, err := catalog.NewMongo(ctx, mcfg)
	if err != nil {
		return nil, nil, err
	}
	return m, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			logger.Log().Warn("Catalog close failed", zap.Error(err))
		}
	}, nil
}

func logFile(c config.LogConfig) *logger.FileConfig {
	if c.File == "" {
		return nil
	}
	return &logger.FileConfig{
		Path:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   true,
	}
}

func realMain() int {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to read config file:", err)
		return 1
	}
	if err := logger.Init(cfg.Log.Development, logFile(cfg.Log)); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		return 1
	}
	defer logger.Sync()
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, closeCatalog, err := openCatalog(ctx, cfg.Catalog)
	if err != nil {
		logger.Log().Error("Failed to open catalog", zap.Error(err))
		return 1
	}
	defer closeCatalog()

	return exitCode(run(ctx, cfg, cat, dataset.FromDir, launchApp))
}

// exitCode treats an interrupt as a normal end of the session.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		logger.Log().Info("Interrupted, shutting down")
		return 0
	default:
		logger.Log().Error("DatasetApp failed", zap.Error(err))
		return 1
	}
}

func main() {
	os.Exit(realMain())
}
