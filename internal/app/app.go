// Package app wires the server together: configuration, database, providers,
// background workers, and the HTTP listener.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lexiflow/lexiflow-server/internal/billing"
	"github.com/lexiflow/lexiflow-server/internal/config"
	"github.com/lexiflow/lexiflow-server/internal/db"
	"github.com/lexiflow/lexiflow-server/internal/dispatch"
	"github.com/lexiflow/lexiflow-server/internal/http/api/front"
	"github.com/lexiflow/lexiflow-server/internal/logging"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"github.com/lexiflow/lexiflow-server/internal/providers"
	"github.com/lexiflow/lexiflow-server/internal/quota"
	"github.com/lexiflow/lexiflow-server/internal/relay"
	"github.com/lexiflow/lexiflow-server/internal/settings"
	"github.com/lexiflow/lexiflow-server/internal/tasks"
)

// settingsRefreshInterval is how often the database-backed settings snapshot
// is reloaded.
const settingsRefreshInterval = time.Minute

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the API server and blocks until ctx is cancelled.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("initial settings snapshot failed")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if errPing := rdb.Ping(ctx).Err(); errPing != nil {
		log.WithError(errPing).Warn("redis unreachable; background tasks will fail until it recovers")
	}

	prices := plans.PriceIDs{
		Monthly: cfg.Stripe.MonthlyPriceID,
		Yearly:  cfg.Stripe.YearlyPriceID,
	}
	ledger := quota.NewLedger(conn, prices)

	timeout := time.Duration(settings.IntValue(settings.DispatchTimeoutSecondsKey, settings.DefaultDispatchTimeoutSeconds)) * time.Second
	dispatcher := dispatch.NewDispatcher(providers.Build(cfg.Providers), dispatch.WithTimeout(timeout))

	relayService := relay.NewService(ledger, dispatcher)
	taskStore := tasks.NewStore(rdb, 24*time.Hour)
	runner := tasks.NewRunner(taskStore, relayService)
	billingService := billing.NewService(conn, ledger, cfg.Stripe)

	engine := gin.New()
	engine.Use(gin.Recovery())
	if len(cfg.Server.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.Server.CORSOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsCfg))
	}
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	front.RegisterRoutes(engine, front.Deps{
		DB:      conn,
		Ledger:  ledger,
		Relay:   relayService,
		Runner:  runner,
		Tasks:   taskStore,
		Billing: billingService,
		Prices:  prices,
		Auth:    cfg.Auth,
		Stripe:  cfg.Stripe,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Infof("listening on %s", cfg.Server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && errServe != http.ErrServerClosed {
			return errServe
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		quota.NewRetentionCleaner(conn).Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(settingsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if errRefresh := settings.RefreshDBConfigSnapshot(groupCtx, conn); errRefresh != nil {
					log.WithError(errRefresh).Warn("settings snapshot refresh failed")
				}
			}
		}
	})

	errWait := group.Wait()
	if errClose := rdb.Close(); errClose != nil {
		log.WithError(errClose).Warn("close redis failed")
	}
	return errWait
}
