package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

type DatabaseConfig struct {
	Driver  string `mapstructure:"driver"` // postgres / sqlite / memory
	DSN     string `mapstructure:"dsn"`
	Path    string `mapstructure:"path"`
	LogMode bool   `mapstructure:"log_mode"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Debug    bool   `mapstructure:"debug"`
}

type LoanConfig struct {
	MaxApproved int `mapstructure:"max_approved"`
}

type CurrencyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text / json
}

type ReportConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Email    EmailConfig    `mapstructure:"email"`
	Loans    LoanConfig     `mapstructure:"loans"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
	Report   ReportConfig   `mapstructure:"report"`

	location *time.Location
}

// Location returns the reporting timezone resolved by Load. A Config that
// did not come from Load reports in UTC.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "data/bank.db")
	v.SetDefault("database.log_mode", false)

	v.SetDefault("jwt.secret", "my_secret_key")
	v.SetDefault("jwt.expire_hours", 24)

	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.debug", false)

	v.SetDefault("loans.max_approved", 3)

	v.SetDefault("currency.base_url", "http://frankfurter:8080/v1")
	v.SetDefault("currency.timeout", 5*time.Second)

	v.SetDefault("admin.api_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("report.timezone", "UTC")
}

// Load reads configuration from the given file (e.g. "config.yaml").
// With an empty path it looks for config.yaml in the working directory and
// runs on defaults plus environment when there is none.
// Environment overrides use the BANK_ prefix, e.g. BANK_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("BANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// names the deployment environment already uses
	_ = v.BindEnv("database.dsn", "BANK_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("email.username", "BANK_EMAIL_USERNAME", "EMAIL_HOST_USER")
	_ = v.BindEnv("email.password", "BANK_EMAIL_PASSWORD", "EMAIL_HOST_PASSWORD")
	_ = v.BindEnv("email.debug", "BANK_EMAIL_DEBUG", "DEBUG_EMAIL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if c.Email.From == "" {
		c.Email.From = c.Email.Username
	}
	if c.Loans.MaxApproved <= 0 {
		c.Loans.MaxApproved = 3
	}

	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid report.timezone %q: %w", c.Report.Timezone, err)
	}
	c.location = loc

	return &c, nil
}
