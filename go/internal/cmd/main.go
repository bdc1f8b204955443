package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/oddsworks/spindle/go/internal/dbconfig"
	"github.com/oddsworks/spindle/go/internal/round/controller"
	"github.com/oddsworks/spindle/go/internal/round/gateway"
	"github.com/oddsworks/spindle/go/internal/round/notify"
	"github.com/oddsworks/spindle/go/internal/round/service"
	"github.com/oddsworks/spindle/go/internal/round/settle"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context) error {
	var fileCfg *Config
	if path := os.Getenv("SPINDLE_CONFIG"); path != "" {
		var err error
		fileCfg, err = loadConfig(path)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("loaded config file")
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := newDatabasePool(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info().Str("database", dbCfg.Database).Msg("connected to database")

	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return err
	}
	defer nc.Close()
	log.Info().Str("url", natsURL).Msg("connected to NATS")

	publisher, err := notify.NewNATSPublisher(nc)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	st := store.NewPostgresStore(pool)
	ledger := settle.NewPostgresLedger(pool)
	settler := settle.NewProcessor(ledger)
	app := controller.NewApp(st, settler, ledger, publisher, clock, fileCfg.controllerConfig())

	watchdog := controller.NewWatchdog(app, clock, fileCfg.watchdogInterval())
	go func() {
		if err := watchdog.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("watchdog stopped")
		}
	}()

	bridgeCfg := notify.DefaultBridgeConfig()
	bridgeCfg.DatabaseURL = dbCfg.DSN()
	bridge, err := notify.NewBridge(st, app, publisher, bridgeCfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = bridge.Stop()
	}()
	go func() {
		if err := bridge.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("notify bridge stopped")
		}
	}()

	gw := gateway.NewManager(gateway.DefaultConfig())
	go gw.Start(ctx)

	consumer := gateway.NewEventConsumer(gw, nc)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway event consumer stopped")
		}
	}()

	svc := service.NewService(app, st, nc, clock)

	addr := getEnv("HTTP_ADDR", ":8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      newHandler(svc, gw),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
