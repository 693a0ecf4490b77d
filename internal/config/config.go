package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Email     EmailConfig     `mapstructure:"email"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	// An empty URL selects the in-process queue.
	URL          string        `mapstructure:"url"`
	Queue        string        `mapstructure:"queue"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type EmailTemplate struct {
	ID      string `mapstructure:"id"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

type EmailConfig struct {
	// Driver is "smtp" or "log".
	Driver       string        `mapstructure:"driver"`
	SMTPHost     string        `mapstructure:"smtp_host"`
	SMTPPort     int           `mapstructure:"smtp_port"`
	SMTPUser     string        `mapstructure:"smtp_user"`
	SMTPPassword string        `mapstructure:"smtp_password"`
	From         string        `mapstructure:"from"`
	Medical      EmailTemplate `mapstructure:"medical"`
	Wellness     EmailTemplate `mapstructure:"wellness"`
}

type PipelineConfig struct {
	CodeAttempts int `mapstructure:"code_attempts"`
	// Mode is "queue" (worker runs batches) or "inline" (upload request runs the batch).
	Mode string `mapstructure:"mode"`
}

type WorkerConfig struct {
	Embedded     bool          `mapstructure:"embedded"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_mb", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "referrals")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("redis.queue", "referral:batches")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)

	// Keys need a default so AutomaticEnv picks them up on Unmarshal.
	v.SetDefault("database.password", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.min_idle_conns", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_user", "")
	v.SetDefault("email.smtp_password", "")
	v.SetDefault("email.from", "")

	v.SetDefault("jwt.issuer", "referral-api")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("email.driver", "log")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.medical.id", "medical-review")
	v.SetDefault("email.medical.subject", "Thanks for your visit, quick review?")
	v.SetDefault("email.medical.body", "Hi {{.FNAME}},\n\nThank you for visiting us for {{.SERVICE_NAME}}. "+
		"We would love your feedback: {{.REVIEW_URL}}\n")
	v.SetDefault("email.wellness.id", "wellness-referral")
	v.SetDefault("email.wellness.subject", "Thank you, your referral code inside")
	v.SetDefault("email.wellness.body", "Hi {{.FNAME}},\n\nThank you for choosing {{.SERVICE_NAME}}. "+
		"Share your referral code {{.REFERRAL_CODE}} with friends. {{.REWARD_COPY}}\n\n"+
		"Tell us how it went: {{.REVIEW_URL}}\n")

	v.SetDefault("pipeline.code_attempts", 5)
	v.SetDefault("pipeline.mode", "queue")

	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.poll_timeout", 5*time.Second)
	v.SetDefault("worker.stale_after", 30*time.Minute)
	v.SetDefault("worker.reap_interval", 5*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.namespace", "referral")
}

// LoadConfig reads .env (if present), then config.yaml from the usual paths, then the environment.
// A missing config file is not an error; defaults and env vars still apply.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Email.Driver {
	case "log", "smtp":
	default:
		return fmt.Errorf("unknown email.driver %q", c.Email.Driver)
	}
	if c.Email.Driver == "smtp" && (c.Email.SMTPHost == "" || c.Email.From == "") {
		return fmt.Errorf("email.smtp_host and email.from are required for the smtp driver")
	}
	// Template bodies are looked up by id.
	if c.Email.Medical.ID == "" || c.Email.Wellness.ID == "" {
		return fmt.Errorf("email.medical.id and email.wellness.id are required")
	}
	if c.Email.Medical.ID == c.Email.Wellness.ID {
		return fmt.Errorf("email.medical.id and email.wellness.id must differ, both are %q", c.Email.Medical.ID)
	}
	switch c.Pipeline.Mode {
	case "queue", "inline":
	default:
		return fmt.Errorf("unknown pipeline.mode %q", c.Pipeline.Mode)
	}
	return nil
}

func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWT.ExpiryHours) * time.Hour
}

func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}
