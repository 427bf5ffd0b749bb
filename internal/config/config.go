package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (LIBRARY_DATABASE_DSN, ...).
const EnvPrefix = "LIBRARY"

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LoanConfig struct {
	// Days is the loan period applied when a caller does not pick one.
	Days int `mapstructure:"days"`

	// ConditionalCopies turns the books_by_id copy-count write into a
	// compare-and-set retried with backoff. Off by default: concurrent
	// borrows of the last copy may both succeed.
	ConditionalCopies bool `mapstructure:"conditional_copies"`
}

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Loan     LoanConfig     `mapstructure:"loan"`
}

// New returns a viper instance with defaults and environment bindings applied.
// The legacy DATABASE_URL and SERVER_ADDR variables are still honoured.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("loan.days", 14)
	v.SetDefault("loan.conditional_copies", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("server.addr", EnvPrefix+"_SERVER_ADDR", "SERVER_ADDR")

	return v
}

// Load reads the optional config file and decodes everything into a Config.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required (set DATABASE_URL or %s_DATABASE_DSN)", EnvPrefix)
	}
	if c.Loan.Days <= 0 {
		return fmt.Errorf("loan.days must be positive, got %d", c.Loan.Days)
	}
	return nil
}
