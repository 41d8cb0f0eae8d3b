// Package config loads service configuration from defaults, an optional YAML
// file and MONOPAY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "MONOPAY"

type Config struct {
	Service   string          `mapstructure:"service"`
	LogLevel  string          `mapstructure:"log_level"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"pg"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Providers ProvidersConfig `mapstructure:"providers"`
	MyWallet  MyWalletConfig  `mapstructure:"mywallet"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Callback  CallbackConfig  `mapstructure:"callback"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig with an empty URL selects the in-memory ledger.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Group   string   `mapstructure:"group"`
}

type OutboxConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Lease      time.Duration `mapstructure:"lease"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type ProvidersConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

type MyWalletConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SimulatorConfig overrides settlement delays per method code.
type SimulatorConfig struct {
	Settlement map[string]time.Duration `mapstructure:"settlement"`
}

// CallbackConfig bounds merchant notification. Attempts counts the first
// try; the wait between tries starts at Backoff and doubles.
type CallbackConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "aggregator-service")
	v.SetDefault("log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 5*time.Second)
	v.SetDefault("http.write_timeout", 45*time.Second)
	v.SetDefault("pg.url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "payment.events")
	v.SetDefault("kafka.group", "callback-service")
	v.SetDefault("outbox.interval", 500*time.Millisecond)
	v.SetDefault("outbox.lease", 5*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retries", 10)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("providers.enabled", []string{"mpesa", "ecocash", "mywallet", "cpay", "khetsi", "eft", "card"})
	v.SetDefault("mywallet.base_url", "")
	v.SetDefault("mywallet.username", "")
	v.SetDefault("mywallet.password", "")
	v.SetDefault("mywallet.timeout", 30*time.Second)
	v.SetDefault("callback.timeout", 10*time.Second)
	v.SetDefault("callback.attempts", 3)
	v.SetDefault("callback.backoff", 500*time.Millisecond)
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path when non-empty, then applies MONOPAY_* overrides, e.g.
// MONOPAY_PG_URL or MONOPAY_MYWALLET_PASSWORD.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Providers.Enabled = splitList(cfg.Providers.Enabled)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	return cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required"))
	}
	if c.MyWallet.Timeout <= 0 {
		errs = append(errs, errors.New("mywallet.timeout must be positive"))
	}
	// A MyWallet create is bounded by mywallet.timeout and must finish
	// before the server gives up on the response.
	if c.HTTP.WriteTimeout > 0 && c.HTTP.WriteTimeout <= c.MyWallet.Timeout {
		errs = append(errs, fmt.Errorf("http.write_timeout (%s) must exceed mywallet.timeout (%s)", c.HTTP.WriteTimeout, c.MyWallet.Timeout))
	}
	if c.Callback.Attempts < 1 {
		errs = append(errs, errors.New("callback.attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
