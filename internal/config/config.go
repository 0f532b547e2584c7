package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	TrustedProxies  []string
	TrustedPlatform string
}

type StoreConfig struct {
	Driver string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig leaves Addr empty to run without redis; in-process fallbacks
// are used for rate limiting, token revocation and mail delivery.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	AvatarBucket  string
	PublicBaseURL string
	UseSSL        bool
	Region        string
	PresignTTL    time.Duration
}

type SecurityConfig struct {
	JWTSecret     string
	BcryptCost    int
	ResetLinkBase string
}

type RateLimitConfig struct {
	Window  time.Duration
	Max     int
	AuthMax int
}

type EntitlementConfig struct {
	FreeDailyLimit int
}

// PriceTable holds plan prices in the gateway's minor currency unit.
// A zero price disables the amount check for that plan.
type PriceTable struct {
	BasicMonthly   int64
	BasicYearly    int64
	PremiumMonthly int64
	PremiumYearly  int64
}

func (p PriceTable) For(plan, cycle string) int64 {
	switch plan + "/" + cycle {
	case "basic/monthly":
		return p.BasicMonthly
	case "basic/yearly":
		return p.BasicYearly
	case "premium/monthly":
		return p.PremiumMonthly
	case "premium/yearly":
		return p.PremiumYearly
	}
	return 0
}

type PaymentsConfig struct {
	BaseURL           string
	SecretKey         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Currency          string
	Prices            PriceTable
}

type MailConfig struct {
	PostmarkToken string
	From          string
	BaseURL       string
}

type QueueConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
}

type JobsConfig struct {
	SubscriptionSweep string
	ResetPurge        string
	LimiterCleanup    string
}

type AppConfig struct {
	Environment      string
	LogLevel         string
	HTTP             HTTPConfig
	Store            StoreConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	RateLimit        RateLimitConfig
	Entitlement      EntitlementConfig
	Payments         PaymentsConfig
	Mail             MailConfig
	Queue            QueueConfig
	Jobs             JobsConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("PLANTSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate fails fast on settings the process cannot run without.
func (c *AppConfig) Validate() error {
	var errs []error

	if len(c.Security.JWTSecret) < 32 {
		errs = append(errs, errors.New("security.jwtsecret must be at least 32 bytes"))
	}
	if c.Security.BcryptCost < 10 || c.Security.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("security.bcryptcost must be between 10 and 31, got %d", c.Security.BcryptCost))
	}
	if c.Payments.SecretKey == "" {
		errs = append(errs, errors.New("payments.secretkey is required"))
	}
	if c.Payments.BaseURL == "" {
		errs = append(errs, errors.New("payments.baseurl is required"))
	}
	if c.Payments.Timeout <= 0 {
		errs = append(errs, errors.New("payments.timeout must be positive"))
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres store"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("ratelimit.window and ratelimit.max must be positive"))
	}
	if c.Entitlement.FreeDailyLimit < 0 {
		errs = append(errs, errors.New("entitlement.freedailylimit must not be negative"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("loglevel", "")
	v.SetDefault("allowcorsorigins", []string{})

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.trustedproxies", []string{})
	v.SetDefault("http.trustedplatform", "")

	v.SetDefault("store.driver", StoreDriverPostgres)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.avatarbucket", "plantscan-avatars")
	v.SetDefault("storage.publicbaseurl", "")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.presignttl", "15m")

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.bcryptcost", 12)
	v.SetDefault("security.resetlinkbase", "plantscan://reset-password")

	v.SetDefault("ratelimit.window", "15m")
	v.SetDefault("ratelimit.max", 100)
	v.SetDefault("ratelimit.authmax", 20)

	v.SetDefault("entitlement.freedailylimit", 5)

	v.SetDefault("payments.baseurl", "https://api.paystack.co")
	v.SetDefault("payments.secretkey", "")
	v.SetDefault("payments.timeout", "10s")
	v.SetDefault("payments.requestspersecond", 10)
	v.SetDefault("payments.burst", 5)
	v.SetDefault("payments.currency", "NGN")
	v.SetDefault("payments.prices.basicmonthly", 0)
	v.SetDefault("payments.prices.basicyearly", 0)
	v.SetDefault("payments.prices.premiummonthly", 0)
	v.SetDefault("payments.prices.premiumyearly", 0)

	v.SetDefault("mail.postmarktoken", "")
	v.SetDefault("mail.from", "no-reply@plantscan.app")
	v.SetDefault("mail.baseurl", "https://api.postmarkapp.com")

	v.SetDefault("queue.stream", "mail:outbound")
	v.SetDefault("queue.group", "mail-workers")
	v.SetDefault("queue.consumer", "worker-1")
	v.SetDefault("queue.claiminterval", "30s")

	v.SetDefault("jobs.subscriptionsweep", "0 */15 * * * *")
	v.SetDefault("jobs.resetpurge", "0 5 * * * *")
	v.SetDefault("jobs.limitercleanup", "0 */5 * * * *")
}
