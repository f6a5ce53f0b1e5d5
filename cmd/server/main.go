package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"signalexec/internal/api"
	"signalexec/internal/config"
	"signalexec/internal/engine"
	"signalexec/internal/exchange"
	"signalexec/internal/ingest"
	"signalexec/internal/models"
	"signalexec/internal/repository"
	"signalexec/internal/service"
	"signalexec/internal/store/memory"
	"signalexec/internal/websocket"
	"signalexec/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", utils.Err(err))
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Каталог ботов из YAML
	var bots []*models.Bot
	if cfg.BotCatalogPath != "" {
		loaded, err := config.LoadBotCatalog(cfg.BotCatalogPath)
		if err != nil {
			return err
		}
		bots = loaded
		log.Info("bot catalog loaded", zap.String("path", cfg.BotCatalogPath), utils.Int("bots", len(bots)))
	}

	// Хранилище: PostgreSQL или память
	var (
		store     engine.Store
		notifRepo service.NotificationRepositoryInterface
	)
	if cfg.Database.Enabled {
		db, err := initDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
		botRepo := repository.NewBotRepository(db)
		for _, b := range bots {
			if err := botRepo.Upsert(ctx, b); err != nil {
				return fmt.Errorf("store bot %s: %w", b.ID, err)
			}
		}
		// в таблице могут быть боты, заведённые не из YAML
		if bots, err = botRepo.GetAll(ctx); err != nil {
			return err
		}
		store = repository.NewStore(db)
		notifRepo = repository.NewNotificationRepository(db)
	} else {
		store = memory.New()
		log.Warn("database disabled, state is kept in memory only")
	}
	catalog := engine.NewStaticCatalog(bots...)

	// Адаптеры бирж
	adapters := newAdapterRegistry(cfg, log)
	defer adapters.close()

	// WebSocket hub и журнал уведомлений
	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	notifService := service.NewNotificationService(notifRepo, service.NotificationOptions{
		QueueSize:     cfg.Notifications.QueueSize,
		Retention:     cfg.Notifications.Retention,
		CleanupPeriod: cfg.Notifications.CleanupPeriod,
	}, log)
	notifService.SetWebSocketHub(hub)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		notifService.Run(ctx)
	}()

	// Движок
	engineCfg, err := cfg.EngineSettings()
	if err != nil {
		return err
	}
	eng := engine.New(engineCfg, catalog, adapters.Registry, store, log,
		engine.LogSink(log),
		engine.NotificationSink(notifService),
	)
	if err := eng.Load(ctx); err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	// Дедупликация повторных доставок
	var dedup service.Deduplicator
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis is unreachable, dedupe will fail open until it recovers",
				zap.String("addr", cfg.Redis.Addr), utils.Err(err))
		}
		dedup = ingest.NewRedisDeduplicator(rdb, cfg.Redis.DedupTTL)
	} else {
		dedup = ingest.NewMemoryDeduplicator(cfg.Redis.DedupTTL)
	}

	// Публикация результатов: WebSocket всегда, Kafka - если настроена
	publishers := ingest.Publishers{hub}
	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	if kafkaEnabled && cfg.Kafka.ResultTopic != "" {
		resultPublisher := ingest.NewResultPublisher(cfg.Kafka.Brokers, cfg.Kafka.ResultTopic)
		defer resultPublisher.Close()
		publishers = append(publishers, resultPublisher)
	}

	signals := service.NewSignalService(eng, dedup, publishers, log)

	if kafkaEnabled {
		consumer := ingest.NewSignalConsumer(cfg.Kafka.Brokers, cfg.Kafka.SignalTopic, cfg.Kafka.GroupID, signals, log)
		defer consumer.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka consumer stopped", utils.Err(err))
			}
		}()
	}

	// HTTP
	router := api.SetupRoutes(&api.Dependencies{
		Engine:              eng,
		Positions:           eng,
		Catalog:             catalog,
		Breakers:            eng.Breakers(),
		SignalService:       signals,
		NotificationService: notifService,
		Hub:                 hub,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		DebugUsername:       cfg.Server.DebugUsername,
		DebugPassword:       cfg.Server.DebugPassword,
		Logger:              log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", utils.Err(err))
	}

	// фоновые задачи останавливаются после HTTP: сигналы в полёте успевают завершиться
	cancel()
	wg.Wait()
	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// adapterRegistry - реестр адаптеров и ресурсы, которые нужно закрыть
type adapterRegistry struct {
	*exchange.Registry
	httpClient *exchange.HTTPClient
}

// newAdapterRegistry регистрирует фабрики бирж.
// Dry-run подменяет перечисленные биржи paper-адаптером; иначе Bybit
// идёт в REST API с ключами аккаунта из окружения.
func newAdapterRegistry(cfg *config.Config, log *utils.Logger) *adapterRegistry {
	reg := exchange.NewRegistry(cfg.Engine.DryRunBalance, cfg.Engine.DryRunSlippageBps)
	httpClient := exchange.NewHTTPClient(exchange.DefaultHTTPClientConfig())

	reg.RegisterFactory("bybit", func(accountID string) (exchange.Adapter, error) {
		key, secret, ok := cfg.BybitCredentials(accountID)
		if !ok {
			return nil, fmt.Errorf("no bybit credentials for account %s", accountID)
		}
		return exchange.NewBybit(
			exchange.BybitCredentials{APIKey: key, APISecret: secret},
			exchange.BybitOptions{BaseURL: cfg.Bybit.BaseURL, Category: cfg.Bybit.Category, Client: httpClient},
		), nil
	})

	if cfg.Engine.DryRun {
		reg.UsePaperFor(cfg.Engine.DryRunExchanges...)
		log.Warn("dry-run mode: orders are simulated", zap.Strings("exchanges", cfg.Engine.DryRunExchanges))
	}
	return &adapterRegistry{Registry: reg, httpClient: httpClient}
}

func (r *adapterRegistry) close() {
	r.httpClient.Close()
}
