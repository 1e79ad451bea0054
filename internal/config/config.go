package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	AMQPURL         string        `mapstructure:"AMQP_URL"`
	AMQPExchange    string        `mapstructure:"AMQP_EXCHANGE"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	BatchWorkers    int           `mapstructure:"BATCH_WORKERS"`
	LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
	DefaultDeduct   string        `mapstructure:"DEFAULT_DEDUCTIBLE"`
	DefaultRatio    string        `mapstructure:"DEFAULT_REIMBURSEMENT_RATIO"`
	ReportEndpoint  string        `mapstructure:"REPORT_ENDPOINT"`
	ReportAccessKey string        `mapstructure:"REPORT_ACCESS_KEY"`
	ReportSecretKey string        `mapstructure:"REPORT_SECRET_KEY"`
	ReportBucket    string        `mapstructure:"REPORT_BUCKET"`
	ReportUseSSL    bool          `mapstructure:"REPORT_USE_SSL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AMQP_URL", "AMQP_EXCHANGE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"BATCH_WORKERS", "LOCK_TTL", "DEFAULT_DEDUCTIBLE", "DEFAULT_REIMBURSEMENT_RATIO",
	"REPORT_ENDPOINT", "REPORT_ACCESS_KEY", "REPORT_SECRET_KEY", "REPORT_BUCKET", "REPORT_USE_SSL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AMQP_EXCHANGE", "settlement.events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("BATCH_WORKERS", 4)
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("DEFAULT_DEDUCTIBLE", "1000")
	v.SetDefault("DEFAULT_REIMBURSEMENT_RATIO", "0.8")
	v.SetDefault("REPORT_BUCKET", "settlement-reports")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("ENV=development: DevAuthMiddleware is active and every request is authenticated. Do not use in production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DefaultDeductible is the deductible of the fallback policy.
func (c *Config) DefaultDeductible() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.DefaultDeduct)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DEFAULT_DEDUCTIBLE: %w", err)
	}
	return d, nil
}

// DefaultReimbursementRatio is the ratio of the fallback policy, a fraction in [0, 1].
func (c *Config) DefaultReimbursementRatio() (decimal.Decimal, error) {
	r, err := decimal.NewFromString(c.DefaultRatio)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DEFAULT_REIMBURSEMENT_RATIO: %w", err)
	}
	return r, nil
}

// ReportsEnabled reports whether an object store endpoint is configured.
func (c *Config) ReportsEnabled() bool {
	return c.ReportEndpoint != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT signing key is required so that bearer tokens are actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; refusing to start without token verification", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}

	d, err := c.DefaultDeductible()
	if err != nil {
		return err
	}
	if d.IsNegative() {
		return fmt.Errorf("DEFAULT_DEDUCTIBLE must not be negative, got %s", d)
	}
	r, err := c.DefaultReimbursementRatio()
	if err != nil {
		return err
	}
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("DEFAULT_REIMBURSEMENT_RATIO must be between 0 and 1, got %s", r)
	}

	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive, got %d", c.BatchWorkers)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.ReportsEnabled() && (c.ReportAccessKey == "" || c.ReportSecretKey == "") {
		return fmt.Errorf("REPORT_ACCESS_KEY and REPORT_SECRET_KEY are required when REPORT_ENDPOINT is set")
	}
	return nil
}
