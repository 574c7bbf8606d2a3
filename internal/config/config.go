package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Access   AccessConfig   `yaml:"access"`
	LLM      LLMConfig      `yaml:"llm"`
	Cache    CacheConfig    `yaml:"cache"`
	Usage    UsageConfig    `yaml:"usage"`
	Billing  BillingConfig  `yaml:"billing"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Environment     string        `yaml:"environment"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RedisConfig is optional. Without an address counters live in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig is optional. Without a URL documents live in memory and
// usage history is off.
type DatabaseConfig struct {
	URL   string `yaml:"url"`
	Debug bool   `yaml:"debug"`
}

type AuthConfig struct {
	JWTSecret      string `yaml:"jwtSecret"`
	JWTExpiryHours int    `yaml:"jwtExpiryHours"`
}

type AccessConfig struct {
	CatalogPath string `yaml:"catalogPath"`
	// FailOpen admits calls when the subscription store is unreachable.
	FailOpen bool `yaml:"failOpen"`
	// LimiterFailOpen admits calls when the counter store is unreachable.
	LimiterFailOpen bool          `yaml:"limiterFailOpen"`
	MemoryCounters  int           `yaml:"memoryCounters"`
	MemoryTTL       time.Duration `yaml:"memoryTTL"`
}

type LLMConfig struct {
	// Providers are tried in order by the priority strategy.
	Providers       []string      `yaml:"providers"`
	Strategy        string        `yaml:"strategy"`
	AnthropicAPIKey string        `yaml:"anthropicApiKey"`
	AnthropicModel  string        `yaml:"anthropicModel"`
	AnthropicURL    string        `yaml:"anthropicUrl"`
	GeminiAPIKey    string        `yaml:"geminiApiKey"`
	GeminiModel     string        `yaml:"geminiModel"`
	Timeout         time.Duration `yaml:"timeout"`
	Attempts        int           `yaml:"attempts"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerCooldown time.Duration `yaml:"breakerCooldown"`
}

type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type UsageConfig struct {
	BufferSize    int           `yaml:"bufferSize"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	Retention     time.Duration `yaml:"retention"`
}

type BillingConfig struct {
	SecretKey     string `yaml:"secretKey"`
	WebhookSecret string `yaml:"webhookSecret"`
	// Prices maps "<tier>_<interval>" to a Stripe price id.
	Prices     map[string]string `yaml:"prices"`
	SuccessURL string            `yaml:"successUrl"`
	CancelURL  string            `yaml:"cancelUrl"`
	ReturnURL  string            `yaml:"returnUrl"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    150 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{JWTExpiryHours: 24},
		Access: AccessConfig{
			FailOpen:        true,
			LimiterFailOpen: true,
			MemoryCounters:  100_000,
			MemoryTTL:       48 * time.Hour,
		},
		LLM: LLMConfig{
			Providers:       []string{"anthropic"},
			Strategy:        "priority",
			Timeout:         60 * time.Second,
			Attempts:        2,
			RetryDelay:      time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Cache: CacheConfig{Size: 100, TTL: 5 * time.Minute},
		Usage: UsageConfig{
			BufferSize:    1000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
			Retention:     90 * 24 * time.Hour,
		},
		Billing: BillingConfig{
			Prices:     map[string]string{},
			SuccessURL: "https://app.patientlead.plus/success",
			CancelURL:  "https://app.patientlead.plus/subscribe",
			ReturnURL:  "https://app.patientlead.plus/account",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	str("PORT", &c.Server.Port)
	str("ENVIRONMENT", &c.Server.Environment)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("DATABASE_URL", &c.Database.URL)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	str("GEMINI_API_KEY", &c.LLM.GeminiAPIKey)
	str("STRIPE_SECRET_KEY", &c.Billing.SecretKey)
	str("STRIPE_WEBHOOK_SECRET", &c.Billing.WebhookSecret)
	str("CATALOG_PATH", &c.Access.CatalogPath)
	str("LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Providers = splitList(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = db
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers must name at least one provider")
	}
	for _, p := range c.LLM.Providers {
		if p != "anthropic" && p != "gemini" {
			return fmt.Errorf("unknown llm provider %q", p)
		}
	}
	if c.Access.MemoryTTL > 0 && c.Access.MemoryTTL < 24*time.Hour {
		return fmt.Errorf("access.memoryTTL must be at least 24h, the longest usage window")
	}
	if c.LLM.Attempts < 1 {
		return fmt.Errorf("llm.attempts must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
