package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/adapters/cache"
	adapterHTTP "github.com/comitanigiacomo/kanso-analysis-engine/internal/adapters/handler/http"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/adapters/messaging"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/adapters/repository"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/config"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/services"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/workers"
)

// app is the wired engine. memory is set only when running on the in-memory store.
type app struct {
	router *gin.Engine
	worker *workers.NotificationWorker
	memory *repository.InMemoryStore

	closers []func() error
}

type stores struct {
	activities domain.ActivityRepository
	users      domain.UserDirectory
	goals      domain.GoalDirectory
	devices    domain.DeviceDirectory
	tx         domain.TxManager
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	startTime := time.Now()

	var db *sqlx.DB
	var st stores
	switch cfg.Server.Store {
	case config.StoreMemory:
		a.memory = repository.NewInMemoryStore()
		st = stores{activities: a.memory, users: a.memory, goals: a.memory, devices: a.memory, tx: a.memory}
		logger.Warn("running on the in-memory store, nothing survives a restart")

	default:
		logger.Info("connecting to database", "driver", cfg.Database.Driver, "host", cfg.Database.Host)
		var err error
		db, err = sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		a.closers = append(a.closers, db.Close)

		if err := repository.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}

		dir := repository.NewPostgresDirectory(db)
		st = stores{
			activities: repository.NewPostgresActivityRepository(db),
			users:      dir,
			goals:      dir,
			devices:    dir,
			tx:         repository.NewPostgresTxManager(db),
		}
	}

	var rdb *redis.Client
	var activityCache domain.ActivityCache = cache.NewMemoryActivityCache()
	if cfg.Redis.Enabled {
		var err error
		rdb, err = cache.NewRedisClient(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Warn("redis unavailable, using process-local activity cache", "error", err)
			rdb = nil
		} else {
			a.closers = append(a.closers, rdb.Close)
			activityCache = cache.NewRedisActivityCache(rdb, cfg.Analysis.ActivityCacheTTL)
			st.goals = repository.NewCachedGoalDirectory(st.goals, rdb, cfg.Redis.GoalTTL)
		}
	}

	var sender domain.MessageSender
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSender, err := messaging.NewKafkaGoalConflictSender(messaging.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, kafkaSender.Close)
		sender = kafkaSender
	} else {
		logger.Warn("no kafka brokers configured, goal conflicts are only logged")
		sender = messaging.NewLogGoalConflictSender(logger)
	}
	a.worker = workers.NewNotificationWorker(sender, cfg.Analysis.NotificationQueue)

	updater := services.NewActivityUpdateService(st.activities, services.ActivityUpdateConfig{
		ConflictInterval: cfg.Analysis.ConflictInterval,
		UpdateSkipWindow: cfg.Analysis.UpdateSkipWindow,
	}, logger)
	engine := services.NewAnalysisEngineService(services.AnalysisEngineDeps{
		Users:    st.users,
		Goals:    st.goals,
		Devices:  st.devices,
		Tx:       st.tx,
		Updater:  updater,
		Cache:    activityCache,
		Locks:    services.NewUserLock(cfg.Analysis.LockTimeout),
		Notifier: a.worker,
		Logger:   logger,
	})
	reports := services.NewActivityReportService(st.users, st.goals, st.activities)

	a.router = adapterHTTP.NewRouter(adapterHTTP.RouterDependencies{
		AnalysisHandler: adapterHTTP.NewAnalysisHandler(engine),
		ActivityHandler: adapterHTTP.NewActivityHandler(reports),
		DB:              db,
		Redis:           rdb,
		RateLimit: adapterHTTP.RateLimit{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
		},
		StartTime: startTime,
	})
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
