package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigFile задает путь к YAML-конфигу. Без него читаются только ENV и дефолты.
const EnvConfigFile = "MESHGUARD_CONFIG"

// Config описывает корневую структуру конфигурации клиента.
// Собирается один раз при создании клиента и дальше не перечитывается.
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Transport TransportConfig `mapstructure:"transport"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// GatewayConfig описывает подключение к шлюзу и учетные данные.
type GatewayConfig struct {
	URL        string        `mapstructure:"url"`
	AgentToken string        `mapstructure:"agent_token"`
	AdminToken string        `mapstructure:"admin_token"` // Только для админских операций
	Timeout    time.Duration `mapstructure:"timeout"`
	TraceID    string        `mapstructure:"trace_id"` // Пустой: сгенерируется UUID
}

// TransportConfig задает настройки надежности HTTP-слоя.
type TransportConfig struct {
	// Один повтор идемпотентных GET на транзиентной ошибке. По умолчанию выключен,
	// POST не повторяется никогда.
	RetryIdempotent bool `mapstructure:"retry_idempotent"`

	RateLimit float64 `mapstructure:"rate_limit"` // запросов в секунду, 0: без лимита
	RateBurst int     `mapstructure:"rate_burst"`

	// Circuit Breaker. Выключен по умолчанию: 5xx отдаются декодеру как есть.
	CBEnabled     bool          `mapstructure:"cb_enabled"`
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"` // Сколько ошибок подряд открывают предохранитель
}

// CacheConfig включает локальный (in-process) кэш решений. Выключен по умолчанию.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig настраивает подписку на сигналы инвалидации кэша. Пустой Addr: без подписки.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// JournalConfig настраивает локальный журнал решений.
type JournalConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DatabaseURL   string        `mapstructure:"database_url"` // Пустой: пишем в логгер
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // none, debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig собирает конфигурацию: дефолты -> YAML-файл (если указан) -> ENV.
// Явные параметры конструктора накладываются поверх уже в клиенте.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Переменные окружения: MESHGUARD_TRANSPORT_RATE_LIMIT перекроет transport.rate_limit
	v.SetEnvPrefix("MESHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Учетные данные понимают и короткие имена. Порядок: приоритет.
	_ = v.BindEnv("gateway.url", "MESHGUARD_GATEWAY_URL", "GATEWAY_URL")
	_ = v.BindEnv("gateway.agent_token", "MESHGUARD_AGENT_TOKEN", "AGENT_TOKEN")
	_ = v.BindEnv("gateway.admin_token", "MESHGUARD_ADMIN_TOKEN", "ADMIN_TOKEN")

	// 2. Дефолты (заодно регистрируют ключи для AutomaticEnv + Unmarshal)
	setDefaults(v)

	// 3. Файл читаем, только если его явно указали
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// 4. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Normalize()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.url", DefaultGatewayURL)
	v.SetDefault("gateway.agent_token", "")
	v.SetDefault("gateway.admin_token", "")
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gateway.trace_id", "")

	v.SetDefault("transport.retry_idempotent", false)
	v.SetDefault("transport.rate_limit", 0.0)
	v.SetDefault("transport.rate_burst", 10)
	v.SetDefault("transport.cb_enabled", false)
	v.SetDefault("transport.cb_max_requests", 3)
	v.SetDefault("transport.cb_interval", 5*time.Second)
	v.SetDefault("transport.cb_timeout", 30*time.Second)
	v.SetDefault("transport.cb_failures", 5)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", 30*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", RedisChanPolicyUpdate)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.database_url", "")
	v.SetDefault("journal.buffer_size", 1000)
	v.SetDefault("journal.batch_size", 100)
	v.SetDefault("journal.flush_interval", 500*time.Millisecond)

	v.SetDefault("logger.level", "none")
	v.SetDefault("logger.format", "json")
}

// Normalize приводит значения к рабочему виду. Вызывается и после наложения явных параметров.
func (c *Config) Normalize() {
	c.Gateway.URL = strings.TrimRight(strings.TrimSpace(c.Gateway.URL), "/")
	if c.Gateway.URL == "" {
		c.Gateway.URL = DefaultGatewayURL
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Transport.RateBurst <= 0 {
		c.Transport.RateBurst = 1
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = RedisChanPolicyUpdate
	}
}
