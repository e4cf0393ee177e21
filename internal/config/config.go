package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/domain"

	"github.com/caarlos0/env/v8"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "GOVERNOR_"

// Backends aceitos para contadores e cooldowns.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config é a configuração do binário cmd/governor, lida do ambiente.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`

	// Backend de contadores/cooldowns: memory, redis, bolt ou postgres.
	Backend      string `env:"BACKEND" envDefault:"memory"`
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisPass    string `env:"REDIS_PASSWORD"`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix  string `env:"REDIS_PREFIX" envDefault:"governor"`
	BoltPath     string `env:"BOLT_PATH"`
	PostgresURL  string `env:"POSTGRES_URL"`
	EnsureSchema bool   `env:"POSTGRES_ENSURE_SCHEMA" envDefault:"true"`

	// Cache de entitlements: memory (com bus Redis opcional) ou redis.
	CacheBackend string        `env:"CACHE_BACKEND" envDefault:"memory"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	// InvalidationBus liga o pub/sub Redis entre réplicas quando o cache é local.
	InvalidationBus bool     `env:"INVALIDATION_BUS" envDefault:"false"`
	Fallbacks       []string `env:"FALLBACKS" envSeparator:"," envDefault:"connected_account,direct_entitlement,active_subscription"`
	PlanCatalogPath string   `env:"PLAN_CATALOG"`

	Limits Limits `envPrefix:"LIMIT_"`

	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	StatsRedis  bool          `env:"STATS_REDIS" envDefault:"false"`
	StatsTTL    time.Duration `env:"STATS_TTL" envDefault:"24h"`
	StatsBucket string        `env:"STATS_BUCKET" envDefault:"minute"`

	ThrottleEnabled    bool          `env:"THROTTLE_ENABLED" envDefault:"true"`
	ThrottleRPS        float64       `env:"THROTTLE_RPS" envDefault:"20"`
	ThrottleBurst      int           `env:"THROTTLE_BURST" envDefault:"40"`
	TrustXFF           bool          `env:"TRUST_XFF" envDefault:"false"`
	RetryAfter         time.Duration `env:"RETRY_AFTER" envDefault:"1s"`
	ConcurrencyMax     int           `env:"CONCURRENCY_MAX" envDefault:"100"`
	ConcurrencyTimeout time.Duration `env:"CONCURRENCY_TIMEOUT" envDefault:"0s"`
}

// Limits são os defaults globais quando o subject não tem override.
type Limits struct {
	MaxRecipientsPerMessage int           `env:"MAX_RECIPIENTS" envDefault:"10"`
	MaxPerHour              int           `env:"MAX_PER_HOUR" envDefault:"50"`
	MaxPerDay               int           `env:"MAX_PER_DAY" envDefault:"200"`
	RecipientCooldown       time.Duration `env:"RECIPIENT_COOLDOWN" envDefault:"120s"`
	DomainCooldown          time.Duration `env:"DOMAIN_COOLDOWN" envDefault:"60s"`
	MaxAttachmentBytes      int64         `env:"MAX_ATTACHMENT_BYTES" envDefault:"10485760"`
	TrialMode               bool          `env:"TRIAL_MODE" envDefault:"false"`
	TrialDailyCap           int           `env:"TRIAL_DAILY_CAP" envDefault:"20"`
}

func (l Limits) LimitConfig() domain.LimitConfig {
	return domain.LimitConfig{
		MaxRecipientsPerMessage: l.MaxRecipientsPerMessage,
		MaxPerHour:              l.MaxPerHour,
		MaxPerDay:               l.MaxPerDay,
		RecipientCooldown:       l.RecipientCooldown,
		DomainCooldown:          l.DomainCooldown,
		MaxAttachmentBytes:      l.MaxAttachmentBytes,
		TrialMode:               l.TrialMode,
		TrialDailyCap:           l.TrialDailyCap,
	}
}

// Load lê o ambiente do processo.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom lê de um ambiente explícito; nil usa o do processo.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("GOVERNOR_REDIS_ADDR is required when GOVERNOR_BACKEND=redis")
		}
	case BackendBolt:
		if strings.TrimSpace(c.BoltPath) == "" {
			return errors.New("GOVERNOR_BOLT_PATH is required when GOVERNOR_BACKEND=bolt")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresURL) == "" {
			return errors.New("GOVERNOR_POSTGRES_URL is required when GOVERNOR_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown GOVERNOR_BACKEND %q", c.Backend)
	}

	switch c.CacheBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown GOVERNOR_CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.NeedsRedis() && strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("GOVERNOR_REDIS_ADDR is required by the redis cache, invalidation bus or redis stats")
	}
	if c.CacheTTL <= 0 {
		return errors.New("GOVERNOR_CACHE_TTL must be > 0")
	}

	if c.Limits.RecipientCooldown < 0 || c.Limits.DomainCooldown < 0 {
		return errors.New("cooldowns must be >= 0")
	}
	if c.Limits.TrialMode && c.Limits.TrialDailyCap < 0 {
		return errors.New("GOVERNOR_LIMIT_TRIAL_DAILY_CAP must be >= 0 in trial mode")
	}

	if c.ThrottleEnabled {
		if c.ThrottleRPS <= 0 {
			return errors.New("GOVERNOR_THROTTLE_RPS must be > 0")
		}
		if c.ThrottleBurst <= 0 {
			return errors.New("GOVERNOR_THROTTLE_BURST must be > 0")
		}
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("GOVERNOR_CONCURRENCY_MAX must be >= 0")
	}
	return nil
}

// NeedsRedis indica se algum componente além dos contadores usa Redis.
func (c Config) NeedsRedis() bool {
	return c.Backend == BackendRedis || c.CacheBackend == BackendRedis || c.InvalidationBus || c.StatsRedis
}

type catalogFile struct {
	Plans []application.Plan `yaml:"plans"`
}

// LoadCatalog lê o catálogo de planos em YAML; caminho vazio devolve o embutido.
func LoadCatalog(path string) (application.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return application.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return application.Catalog{}, fmt.Errorf("open plan catalog: %w", err)
	}
	defer f.Close()

	var file catalogFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return application.Catalog{}, fmt.Errorf("decode plan catalog %s: %w", path, err)
	}
	catalog, err := application.NewCatalog(file.Plans)
	if err != nil {
		return application.Catalog{}, fmt.Errorf("plan catalog %s: %w", path, err)
	}
	return catalog, nil
}
