package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/alert"
	"github.com/holdroom/backend/internal/api"
	"github.com/holdroom/backend/internal/auth"
	"github.com/holdroom/backend/internal/botscore"
	"github.com/holdroom/backend/internal/config"
	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/geo"
	"github.com/holdroom/backend/internal/logging"
	"github.com/holdroom/backend/internal/mock"
	"github.com/holdroom/backend/internal/session"
	"github.com/holdroom/backend/internal/storage/postgres"
	"github.com/holdroom/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	mockMode := flag.Bool("mock", false, "Generate synthetic visitor traffic")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	genSecret := flag.Bool("gen-secret", false, "Print a random admin secret and exit")
	flag.Parse()

	if *genSecret {
		secret, err := config.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generating secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(secret)
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *mockMode); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, mockMode bool) error {
	store, repo, closeStorage, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	locator, err := newLocator(cfg.Geo, log.Named("geo"))
	if err != nil {
		return err
	}
	defer func() { _ = locator.Close() }()

	registry := ws.NewRegistry()
	broadcaster := ws.NewBroadcaster(registry, log.Named("ws"))

	telegram := alert.NewTelegram(alert.TelegramConfig{
		Token:     cfg.Alerts.TelegramToken,
		ChatID:    cfg.Alerts.TelegramChatID,
		Endpoint:  cfg.Alerts.TelegramEndpoint,
		QueueSize: cfg.Alerts.QueueSize,
		PerMinute: cfg.Alerts.PerMinute,
		Logger:    log.Named("telegram"),
	})
	go telegram.Run(ctx)

	alerts := alert.NewService(repo, broadcaster, telegram, log.Named("alert"))

	machine := session.NewMachine(session.MachineConfig{
		Store:    store,
		Pages:    repo,
		Notifier: broadcaster,
		Bots:     botscore.New(cfg.Bots.ExtraPatterns...),
		Geo:      locator,
		Alerts:   alerts,
		Logger:   log.Named("session"),
	})

	if mockMode {
		log.Info("starting in mock mode")
		if err := mock.NewGenerator(machine, repo, log.Named("mock")).Start(ctx); err != nil {
			return err
		}
	}

	secret := auth.Secret(cfg.Server.AdminSecret)
	wsServer := ws.NewServer(broadcaster, secret, cfg.Server.AllowedOrigins, ws.Options{
		SendBuffer:     cfg.WS.SendBuffer,
		WriteWait:      cfg.WS.WriteWait,
		PongWait:       cfg.WS.PongWait,
		PingPeriod:     cfg.WS.PingPeriod,
		MaxMessageSize: cfg.WS.MaxMessageSize,
	}, log.Named("ws"))

	apiServer := api.New(api.Config{
		Machine:       machine,
		Content:       repo,
		Alerts:        alerts,
		Secret:        secret,
		Connections:   registry,
		TrustProxy:    cfg.Server.TrustProxy,
		RegisterRate:  cfg.Register.RatePerSecond,
		RegisterBurst: cfg.Register.Burst,
		Logger:        log.Named("http"),
	})
	defer apiServer.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer.Handler(wsServer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(wsServer.Close)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("geo", cfg.Geo.Provider),
			zap.Bool("telegram", telegram.Enabled()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStorage(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (session.Store, content.Repository, func(), error) {
	if cfg.Driver != "postgres" {
		return session.NewMemoryStore(), content.NewMemoryRepository(), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Migrate {
		if err := postgres.Migrate(db, log.Named("migrate")); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Warn("closing database", zap.Error(err))
		}
	}
	return postgres.NewVisitorStore(db), postgres.NewContentRepository(db), closeDB, nil
}

func newLocator(cfg config.GeoConfig, log *zap.Logger) (*geo.Locator, error) {
	var provider geo.Provider
	switch cfg.Provider {
	case "ipapi":
		provider = geo.NewIPAPI(cfg.Endpoint, &http.Client{Timeout: cfg.Timeout})
	case "mmdb":
		db, err := geo.OpenMMDB(cfg.MMDBPath)
		if err != nil {
			return nil, err
		}
		provider = db
	}

	return geo.NewLocator(provider, geo.Options{
		Timeout:   cfg.Timeout,
		CacheTTL:  cfg.CacheTTL,
		CacheSize: cfg.CacheSize,
		Logger:    log,
	}), nil
}
