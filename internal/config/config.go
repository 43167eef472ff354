package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/spf13/viper"
)

const (
	DefaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	DefaultDSN        = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"

	EnvPrefix = "ATTENDANCE"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	ServerAddr     string        `mapstructure:"addr"`
	SigningSecret  string        `mapstructure:"signing_key"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	PrivilegedIDs  []string      `mapstructure:"privileged_ids"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	SeedDemo       bool          `mapstructure:"seed_demo"`
	Store          StoreConfig   `mapstructure:"store"`
	Remote         RemoteConfig  `mapstructure:"remote"`
	Log            LogConfig     `mapstructure:"log"`

	// SigningKey is SigningSecret decoded by Load.
	SigningKey []byte `mapstructure:"-"`
}

type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	Dir          string `mapstructure:"dir"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`
	DSN          string `mapstructure:"dsn"`
}

// RemoteConfig points at an optional remote authority. An empty URL
// disables it.
type RemoteConfig struct {
	URL          string        `mapstructure:"url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Default() *Config {
	return &Config{
		ServerAddr:     "localhost:8000",
		SigningSecret:  DefaultSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
		PrivilegedIDs:  append([]string(nil), identity.DefaultPrivileged...),
		TickInterval:   time.Second,
		SeedDemo:       true,
		Store: StoreConfig{
			Driver:       DriverMemory,
			Dir:          "./data",
			RedisAddr:    "localhost:6379",
			RedisChannel: "attendance:changes",
			DSN:          DefaultDSN,
		},
		Remote: RemoteConfig{
			ReadTimeout:  6 * time.Second,
			WriteTimeout: 8 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every key with its default and binds ATTENDANCE_*
// environment variables (store.dsn reads ATTENDANCE_STORE_DSN).
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("addr", d.ServerAddr)
	v.SetDefault("signing_key", d.SigningSecret)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("privileged_ids", d.PrivilegedIDs)
	v.SetDefault("tick_interval", d.TickInterval)
	v.SetDefault("seed_demo", d.SeedDemo)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_channel", d.Store.RedisChannel)
	v.SetDefault("store.dsn", d.Store.DSN)

	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.read_timeout", d.Remote.ReadTimeout)
	v.SetDefault("remote.write_timeout", d.Remote.WriteTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v, validates it and decodes the
// signing key.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	key, err := decodeSigningSecret(cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	cfg.SigningKey = key

	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}
