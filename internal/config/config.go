package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"signalexec/internal/engine"
	"signalexec/pkg/ratelimit"
	"signalexec/pkg/retry"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Engine        EngineConfig
	Kafka         KafkaConfig
	Redis         RedisConfig
	Logging       LoggingConfig
	Notifications NotificationConfig
	Bybit         BybitConfig

	// BotCatalogPath - YAML файл с определениями ботов (пусто = только таблица bots)
	BotCatalogPath string
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// AllowedOrigins - CORS и WebSocket origins через запятую ("*" = любой)
	AllowedOrigins string

	// Basic Auth для /debug/pprof (пусто = выключено)
	DebugUsername string
	DebugPassword string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Enabled         bool // false = хранилище в памяти
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// EngineConfig - параметры движка исполнения
type EngineConfig struct {
	// Circuit breaker (на каждый биржевой аккаунт)
	BreakerThreshold   int
	BreakerWindow      time.Duration
	BreakerCooldown    time.Duration
	BreakerMaxCooldown time.Duration

	// Retry временных ошибок адаптера
	MaxRetries   int // повторов после первой попытки
	RetryBackoff time.Duration
	RetryMaxWait time.Duration
	CallTimeout  time.Duration // таймаут одного вызова адаптера

	// Rate limit по умолчанию для аккаунтов неизвестных бирж
	RateLimit float64
	RateBurst int

	Timezone          string        // опорная таймзона дневных лимитов и истории PNL
	ReconcileInterval time.Duration // 0 = сверка позиций отключена

	// Dry-run: перечисленные биржи исполняются paper-адаптером
	DryRun            bool
	DryRunExchanges   []string
	DryRunBalance     float64
	DryRunSlippageBps float64
}

// KafkaConfig - приём сигналов и публикация результатов (пустой Brokers = выключено)
type KafkaConfig struct {
	Brokers     []string
	SignalTopic string
	ResultTopic string
	GroupID     string
}

// RedisConfig - дедупликация сигналов (пустой Addr = дедупликация в памяти)
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	DedupTTL time.Duration
}

// BybitConfig - REST-адаптер Bybit.
// Ключи ищутся по аккаунту: BYBIT_API_KEY_<ACCOUNT>, затем общий BYBIT_API_KEY.
type BybitConfig struct {
	BaseURL  string
	Category string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// NotificationConfig - журнал уведомлений
type NotificationConfig struct {
	Retention     time.Duration // уведомления старше удаляются
	CleanupPeriod time.Duration
	QueueSize     int
}

// Load загружает конфигурацию из переменных окружения.
// Если рядом лежит .env (или ENV_FILE), его значения подхватываются,
// но не перекрывают уже заданные переменные.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", ""),
			DebugUsername:   getEnv("DEBUG_USERNAME", ""),
			DebugPassword:   getEnv("DEBUG_PASSWORD", ""),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvAsBool("DB_ENABLED", false),
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "signalexec"),
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Engine: EngineConfig{
			BreakerThreshold:   getEnvAsInt("BREAKER_THRESHOLD", 5),
			BreakerWindow:      getEnvAsDuration("BREAKER_WINDOW", time.Minute),
			BreakerCooldown:    getEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),
			BreakerMaxCooldown: getEnvAsDuration("BREAKER_MAX_COOLDOWN", 5*time.Minute),

			MaxRetries:   getEnvAsInt("MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("RETRY_BACKOFF", 100*time.Millisecond),
			RetryMaxWait: getEnvAsDuration("RETRY_MAX_WAIT", 5*time.Second),
			CallTimeout:  getEnvAsDuration("ADAPTER_CALL_TIMEOUT", 10*time.Second),

			RateLimit: getEnvAsFloat("RATE_LIMIT", 10),
			RateBurst: getEnvAsInt("RATE_BURST", 20),

			Timezone:          getEnv("ENGINE_TIMEZONE", "UTC"),
			ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),

			DryRun:            getEnvAsBool("DRY_RUN", false),
			DryRunExchanges:   getEnvAsList("DRY_RUN_EXCHANGES", []string{"bybit", "okx", "bitget", "gate", "htx", "bingx"}),
			DryRunBalance:     getEnvAsFloat("DRY_RUN_INITIAL_BALANCE", 10000),
			DryRunSlippageBps: getEnvAsFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS", nil),
			SignalTopic: getEnv("KAFKA_SIGNAL_TOPIC", "signals"),
			ResultTopic: getEnv("KAFKA_RESULT_TOPIC", "dispatch-results"),
			GroupID:     getEnv("KAFKA_GROUP_ID", "signalexec"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			DedupTTL: getEnvAsDuration("SIGNAL_DEDUP_TTL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Notifications: NotificationConfig{
			Retention:     getEnvAsDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
			CleanupPeriod: getEnvAsDuration("NOTIFICATION_CLEANUP_PERIOD", time.Hour),
			QueueSize:     getEnvAsInt("NOTIFICATION_QUEUE_SIZE", 256),
		},
		Bybit: BybitConfig{
			BaseURL:  getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
			Category: getEnv("BYBIT_CATEGORY", "linear"),
		},
		BotCatalogPath: getEnv("BOT_CATALOG_PATH", ""),
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Валидация retry параметров
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Engine.MaxRetries)
	}

	if c.Engine.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Engine.MaxRetries)
	}

	// Валидация breaker
	if c.Engine.BreakerThreshold < 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be at least 1, got %d", c.Engine.BreakerThreshold)
	}

	if c.Engine.BreakerMaxCooldown < c.Engine.BreakerCooldown {
		return fmt.Errorf("BREAKER_MAX_COOLDOWN (%v) must not be less than BREAKER_COOLDOWN (%v)",
			c.Engine.BreakerMaxCooldown, c.Engine.BreakerCooldown)
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("ADAPTER_CALL_TIMEOUT must be positive, got %v", c.Engine.CallTimeout)
	}

	if c.Engine.BreakerWindow <= 0 || c.Engine.BreakerCooldown <= 0 {
		return fmt.Errorf("BREAKER_WINDOW and BREAKER_COOLDOWN must be positive")
	}

	if c.Engine.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %v", c.Engine.RateLimit)
	}

	if c.Engine.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL cannot be negative, got %v", c.Engine.ReconcileInterval)
	}

	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("ENGINE_TIMEZONE is invalid: %w", err)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.SignalTopic == "" {
		return fmt.Errorf("KAFKA_SIGNAL_TOPIC is required when KAFKA_BROKERS is set")
	}

	if c.Notifications.QueueSize < 1 {
		return fmt.Errorf("NOTIFICATION_QUEUE_SIZE must be positive, got %d", c.Notifications.QueueSize)
	}

	return nil
}

// EngineSettings собирает engine.Config из настроек окружения
func (c *Config) EngineSettings() (engine.Config, error) {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return engine.Config{}, fmt.Errorf("load timezone %s: %w", c.Engine.Timezone, err)
	}

	cfg := engine.DefaultConfig()
	cfg.Breaker = engine.BreakerConfig{
		FailureThreshold: c.Engine.BreakerThreshold,
		Window:           c.Engine.BreakerWindow,
		Cooldown:         c.Engine.BreakerCooldown,
		MaxCooldown:      c.Engine.BreakerMaxCooldown,
		CooldownFactor:   2,
	}

	rc := retry.DefaultConfig()
	rc.MaxRetries = c.Engine.MaxRetries
	rc.InitialDelay = c.Engine.RetryBackoff
	rc.MaxDelay = c.Engine.RetryMaxWait
	cfg.Gateway = engine.GatewayConfig{CallTimeout: c.Engine.CallTimeout, Retry: rc}

	cfg.RateLimit = ratelimit.Limits{Rate: c.Engine.RateLimit, Burst: c.Engine.RateBurst}
	cfg.Location = loc
	cfg.ReconcileInterval = c.Engine.ReconcileInterval
	return cfg, nil
}

// BybitCredentials возвращает ключи биржевого аккаунта Bybit.
// ok=false - ключей нет ни для аккаунта, ни общих.
func (c *Config) BybitCredentials(accountID string) (apiKey, apiSecret string, ok bool) {
	suffix := envSuffix(accountID)
	apiKey = getEnv("BYBIT_API_KEY_"+suffix, "")
	apiSecret = getEnv("BYBIT_API_SECRET_"+suffix, "")
	if apiKey == "" || apiSecret == "" {
		apiKey = getEnv("BYBIT_API_KEY", "")
		apiSecret = getEnv("BYBIT_API_SECRET", "")
	}
	return apiKey, apiSecret, apiKey != "" && apiSecret != ""
}

// envSuffix приводит ID аккаунта к виду имени переменной: acc-1 → ACC_1
func envSuffix(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
