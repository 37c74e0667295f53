package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	Signer     SignerConfig    `mapstructure:"signer"`
	Poll       PollConfig      `mapstructure:"poll"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	Relay      RelayConfig     `mapstructure:"relay"`
	Redis      RedisConfig     `mapstructure:"redis"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Audit      AuditConfig     `mapstructure:"audit"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Client side ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type SignerConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ActionURL    string        `mapstructure:"action_url"`
	Origin       string        `mapstructure:"origin"`
	Redirect     string        `mapstructure:"redirect"`
	Preconnect   bool          `mapstructure:"preconnect"`
	InAppRouting bool          `mapstructure:"in_app_routing"`
	TimeoutMs    int           `mapstructure:"timeout_ms"`
	Chain        model.Chain   `mapstructure:"chain"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// Budget is the longest a single operation waits for the companion.
func (p PollConfig) Budget() time.Duration {
	return p.Interval * time.Duration(p.MaxAttempts)
}

// ---- Relay side ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type RelayConfig struct {
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	MaxPayloadBytes int64         `mapstructure:"max_payload_bytes"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	APIKeys         []string      `mapstructure:"api_keys"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type AuditConfig struct {
	WorkerCount int           `mapstructure:"worker_count"`
	BatchSize   int           `mapstructure:"batch_size"`
	BatchWait   time.Duration `mapstructure:"batch_wait"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (OOBSIGN_*, with "." replaced by "_", e.g. OOBSIGN_POLL_INTERVAL).
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

	v.SetEnvPrefix("OOBSIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
