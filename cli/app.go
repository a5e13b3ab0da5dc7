package cli

import (
	"fmt"

	"github.com/kasuganosora/engagebot/cache"
	"github.com/kasuganosora/engagebot/config"
	dbadapter "github.com/kasuganosora/engagebot/db"
	"github.com/kasuganosora/engagebot/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app is the shared runtime every command starts from.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bootstrap loads config, builds the logger and opens a migrated database.
func bootstrap(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) cacheConfig() cache.CacheConfig {
	return cache.CacheConfig{
		RedisAddr:       a.cfg.Cache.RedisAddr,
		RedisPassword:   a.cfg.Cache.RedisPassword,
		RedisDB:         a.cfg.Cache.RedisDB,
		LocalGCInterval: a.cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  a.cfg.Cache.LocalPubSubBuf,
	}
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
