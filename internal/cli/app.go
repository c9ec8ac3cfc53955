package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/angelfsepulveda/customchatfree/internal/config"
	"github.com/angelfsepulveda/customchatfree/internal/logger"
	"github.com/angelfsepulveda/customchatfree/internal/service/assistant"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

// app holds what every command needs: config, logger and a migrated store.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *sql.DB
	assistant *assistant.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		log.Sync()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	retry := storage.RetryPolicy{
		MaxAttempts:    cfg.Database.MaxAttempts,
		InitialBackoff: cfg.Database.InitialBackoff,
	}
	tm := storage.NewTxManager(db, retry, cfg.Database.LockTimeout, log.With("component", "store"))
	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		assistant: assistant.NewService(tm, log.With("component", "assistant")),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", "error", err)
	}
	a.log.Sync()
}
