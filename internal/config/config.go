package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/backoff"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Pipeline   PipelineConfig  `mapstructure:"pipeline"`
	Processor  ProcessorConfig `mapstructure:"processor"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Intake     IntakeConfig    `mapstructure:"intake"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// PipelineConfig tunes the batch runner and retry policy. Backoff() builds
// the validated policy struct handed to the controller.
type PipelineConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ReclaimAfter  time.Duration `mapstructure:"reclaim_after"`
	MaxRetries    int           `mapstructure:"max_retries"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	JitterRatio   float64       `mapstructure:"jitter_ratio"`
}

// Backoff maps the pipeline section onto a backoff.Policy, falling back to
// stock values for anything unset.
func (p PipelineConfig) Backoff() backoff.Policy {
	policy := backoff.DefaultPolicy()
	if p.MaxRetries > 0 {
		policy.MaxRetries = p.MaxRetries
	}
	if p.InitialDelay > 0 {
		policy.InitialDelay = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		policy.MaxDelay = p.MaxDelay
	}
	if p.BackoffFactor > 0 {
		policy.BackoffFactor = p.BackoffFactor
	}
	if p.JitterRatio > 0 {
		policy.JitterRatio = p.JitterRatio
	}
	return policy
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProcessorConfig struct {
	Name      string        `mapstructure:"name"`
	BaseURL   string        `mapstructure:"base_url"`
	ReplyPath string        `mapstructure:"reply_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type IntakeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (MSGGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (MSGGW_*)
	v.SetEnvPrefix("MSGGW")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Pipeline.Backoff().Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
