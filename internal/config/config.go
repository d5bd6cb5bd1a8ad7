package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	LogLevel   string              `mapstructure:"log_level"`
	HTTP       HTTPConfig          `mapstructure:"http"`
	MySQL      DatabaseConfig      `mapstructure:"mysql"`
	PeerMySQL  DatabaseConfig      `mapstructure:"peer_mysql"`
	ClickHouse DatabaseConfig      `mapstructure:"clickhouse"`
	Redis      RedisConfig         `mapstructure:"redis"`
	Relay      RelayConfig         `mapstructure:"relay"`
	Transport  TransportConfig     `mapstructure:"transport"`
	Consumer   ConsumerConfig      `mapstructure:"consumer"`
	Directory  DirectoryConfig     `mapstructure:"directory"`
	Fallbacks  map[string][]string `mapstructure:"role_fallbacks"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	ServiceToken string `mapstructure:"service_token"` // shared secret for /internal routes
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

type RelayConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type TransportConfig struct {
	PeerName  string        `mapstructure:"peer_name"`
	BaseURL   string        `mapstructure:"base_url"`
	Path      string        `mapstructure:"path"`
	Token     string        `mapstructure:"token"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type ConsumerConfig struct {
	OriginService string        `mapstructure:"origin_service"`
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type DirectoryConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (RELAY_*).
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

	// env override (RELAY_*)
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
