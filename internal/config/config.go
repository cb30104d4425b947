package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Models      ModelsConfig      `mapstructure:"models"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	AliasSource AliasSourceConfig `mapstructure:"alias_source"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	I18n        I18nConfig        `mapstructure:"i18n"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type ProvidersConfig struct {
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
}

// ProviderConfig describes one upstream provider family and its key pool
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKeys           []string      `mapstructure:"api_keys"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	DefaultMaxTokens  int           `mapstructure:"default_max_tokens"`
}

type ModelsConfig struct {
	Default         string            `mapstructure:"default"`
	SecondaryPrefix string            `mapstructure:"secondary_prefix"`
	Aliases         map[string]string `mapstructure:"aliases"`
}

type GatewayConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	CoolDown    time.Duration `mapstructure:"cool_down"`
}

type RateLimitConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	AI      PolicyConfig `mapstructure:"ai"`
	General PolicyConfig `mapstructure:"general"`
}

type PolicyConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// AliasSourceConfig enables loading model alias overrides from Redis at startup
type AliasSourceConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Key     string      `mapstructure:"key"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("providers.primary.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.primary.timeout", 30*time.Second)
	v.SetDefault("providers.secondary.base_url", "https://api.anthropic.com")
	v.SetDefault("providers.secondary.timeout", 30*time.Second)
	v.SetDefault("providers.secondary.default_max_tokens", 4096)

	v.SetDefault("models.default", "gpt-4o-mini")
	v.SetDefault("models.secondary_prefix", "claude")
	v.SetDefault("models.aliases", map[string]string{
		"gpt-5-nano": "gpt-4o-mini",
		"gpt-5-mini": "gpt-4o",
	})

	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.cool_down", time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.ai.limit", 10)
	v.SetDefault("rate_limit.ai.window", time.Minute)
	v.SetDefault("rate_limit.general.limit", 500)
	v.SetDefault("rate_limit.general.window", 15*time.Minute)

	v.SetDefault("alias_source.key", "gateway:model_aliases")
	v.SetDefault("alias_source.redis.addr", "localhost:6379")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en", "zh"})
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("providers.primary.base_url", "PRIMARY_BASE_URL")
	v.BindEnv("providers.secondary.base_url", "SECONDARY_BASE_URL")
	v.BindEnv("alias_source.redis.password", "REDIS_PASSWORD")
	v.BindEnv("notify.telegram.token", "TELEGRAM_BOT_TOKEN")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.AliasSource.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// Key pools from the environment replace the ones in the file
	if keys := splitList(os.Getenv("PRIMARY_API_KEYS")); len(keys) > 0 {
		config.Providers.Primary.APIKeys = keys
	}
	if keys := splitList(os.Getenv("SECONDARY_API_KEYS")); len(keys) > 0 {
		config.Providers.Secondary.APIKeys = keys
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if len(cfg.Providers.Primary.APIKeys) == 0 && len(cfg.Providers.Secondary.APIKeys) == 0 {
		return fmt.Errorf("at least one provider api key is required")
	}
	if cfg.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway.max_attempts must be at least 1")
	}
	if cfg.RateLimit.AI.Limit < 1 || cfg.RateLimit.AI.Window <= 0 {
		return fmt.Errorf("rate_limit.ai needs a positive limit and window")
	}
	if cfg.RateLimit.General.Limit < 1 || cfg.RateLimit.General.Window <= 0 {
		return fmt.Errorf("rate_limit.general needs a positive limit and window")
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token == "" {
		return fmt.Errorf("telegram notifier enabled without a token")
	}
	return nil
}
