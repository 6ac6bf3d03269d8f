package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/kollektive-hackathon/lastcall-backend/internal/game"
	"github.com/kollektive-hackathon/lastcall-backend/internal/operation"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/config"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/database"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/middleware"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/pubsub"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/txctx"
	pkgws "github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ws"
	"github.com/kollektive-hackathon/lastcall-backend/internal/reconciler"
	"github.com/kollektive-hackathon/lastcall-backend/internal/watcher"
	"github.com/kollektive-hackathon/lastcall-backend/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	setupZerolog()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := setupDb(cfg)
	txManager := txctx.NewManager(db)
	games := game.NewRepository(txManager)
	operations := operation.NewRepository(txManager)

	notificationHub := pkgws.NewNotificationHub()
	publisher := game.NewPublisher(games, notificationHub)

	decoder, err := ledger.NewDecoder(ledger.Contracts{
		Factory: cfg.GameFactoryAddress,
		Hub:     cfg.GameHubAddress,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load contract ABIs")
	}

	ledgerClient, err := ledger.Dial(ctx, cfg.LedgerRpcUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ledger")
	}
	defer ledgerClient.Close()

	var subscriber ledger.LogSubscriber = ledgerClient
	if cfg.LedgerSource == config.LedgerSourcePubsub {
		relay, err := pubsub.NewLogRelay(ctx, cfg.GoogleProjectId, map[common.Address]string{
			cfg.GameFactoryAddress: cfg.PubsubGameCreatedSubscription,
			cfg.GameHubAddress:     cfg.PubsubCommentAddedSubscription,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize pubsub relay")
		}
		defer func() { _ = relay.Close() }()
		subscriber = relay
	}

	ledgerWatcher := watcher.New(subscriber, decoder, games, publisher, watcher.Options{
		SubscribeTimeout: cfg.LedgerSubscribeTimeout,
	})
	if err := ledgerWatcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ledger watcher")
	}

	operationReconciler := reconciler.New(
		txManager,
		operations,
		games,
		publisher,
		ledger.NewReceiptOutcomes(ledgerClient),
		decoder,
		reconciler.Options{MaxRetry: cfg.ReconcileMaxRetry, RowTimeout: cfg.ReconcileRowTimeout},
	)
	scheduler := reconciler.NewScheduler(operationReconciler, cfg.ReconcileInterval)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reconciler")
	}

	apiRouter := setupApiRouter(db, games, operations, notificationHub, ledgerWatcher)
	server := &http.Server{
		Addr:         cfg.Port,
		Handler:      apiRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Port).Msg("Serving lastcall api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Http server shutdown failed")
	}
	scheduler.Stop()
	ledgerWatcher.Stop()
}

func setupDb(cfg config.Config) *gorm.DB {
	db, err := database.Open(cfg.DbUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	return db
}

func setupApiRouter(
	db *gorm.DB,
	games *game.Repository,
	operations *operation.Repository,
	hub *pkgws.WebSocketNotificationHub,
	ledgerWatcher *watcher.Watcher,
) *gin.Engine {
	apiRouter := gin.New()
	middleware.RegisterGlobalMiddleware(apiRouter)

	apiRouter.GET("/healthz", healthz(db, ledgerWatcher))
	apiRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routerGroup := apiRouter.Group("/lastcall-api")
	ws.RegisterRoutes(routerGroup, hub)
	operation.RegisterRoutes(routerGroup, operation.NewService(operations))
	game.RegisterRoutes(routerGroup, games)

	return apiRouter
}

func healthz(db *gorm.DB, ledgerWatcher *watcher.Watcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "up"

		sqlDb, err := db.DB()
		if err == nil {
			err = sqlDb.PingContext(c.Request.Context())
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			dbStatus = "down"
		}

		c.JSON(status, gin.H{
			"database": dbStatus,
			"watcher":  ledgerWatcher.State().String(),
		})
	}
}

func setupZerolog() {
	zerolog.LevelFieldName = "severity"
	zerolog.TimestampFieldName = "time"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
