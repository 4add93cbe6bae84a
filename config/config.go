// Package config loads the portal auth service configuration from a YAML
// file with PORTAL_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PORTAL_"

// Config holds all configuration required by the service process.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
	SMTP     SMTPConfig     `yaml:"smtp"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Debug           bool          `yaml:"debug"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig implements the auth package Config getters
type AuthConfig struct {
	SigningKey            string        `yaml:"signing_key"`
	SigningMethod         string        `yaml:"signing_method"`
	ContextKey            string        `yaml:"context_key"`
	TokenExpiration       int           `yaml:"token_expiration"`
	TokenLookup           string        `yaml:"token_lookup"`
	AuthScheme            string        `yaml:"auth_scheme"`
	Issuer                string        `yaml:"issuer"`
	Audience              []string      `yaml:"audience"`
	ResetTokenTTL         time.Duration `yaml:"reset_token_ttl"`
	StoreTimeout          time.Duration `yaml:"store_timeout"`
	BcryptCost            int           `yaml:"bcrypt_cost"`
	RefreshRoleOnValidate bool          `yaml:"refresh_role_on_validate"`
}

// RedisConfig enables attempt throttling when Addr is set
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	LoginAttempts int           `yaml:"login_attempts"`
	ResetAttempts int           `yaml:"reset_attempts"`
	Window        time.Duration `yaml:"window"`
}

// SMTPConfig enables email delivery of reset links when Host is set
type SMTPConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	From          string `yaml:"from"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Defaults returns a configuration good enough for local development
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:portal.db?cache=shared",
		},
		Auth: AuthConfig{
			SigningMethod:   "HS256",
			ContextKey:      "portal_session",
			TokenExpiration: 24,
			AuthScheme:      "Bearer",
			Issuer:          "portal",
			Audience:        []string{"portal"},
			ResetTokenTTL:   time.Hour,
			StoreTimeout:    5 * time.Second,
			BcryptCost:      12,
		},
		Redis: RedisConfig{
			LoginAttempts: 10,
			ResetAttempts: 3,
			Window:        15 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port:          587,
			PublicBaseURL: "http://localhost:8080",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, errors.Wrap(err, errors.CategoryInternal, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, errors.CategoryBadInput, "failed to parse config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	if cfg.Auth.TokenLookup == "" {
		cfg.Auth.TokenLookup = "header:Authorization,query:token,cookie:" + cfg.Auth.ContextKey
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.Database.DSN, validation.Required),
	); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid database config")
	}

	if err := validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Auth.SigningMethod, validation.In("HS256")),
		validation.Field(&c.Auth.ContextKey, validation.Required),
		validation.Field(&c.Auth.TokenExpiration, validation.Required, validation.Min(1)),
		validation.Field(&c.Auth.ResetTokenTTL, validation.Required),
		validation.Field(&c.Auth.StoreTimeout, validation.Required),
		validation.Field(&c.Auth.BcryptCost, validation.Min(4), validation.Max(31)),
	); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid auth config")
	}

	if c.SMTP.Host != "" {
		if err := validation.ValidateStruct(&c.SMTP,
			validation.Field(&c.SMTP.From, validation.Required, is.Email),
			validation.Field(&c.SMTP.PublicBaseURL, validation.Required, is.URL),
		); err != nil {
			return errors.Wrap(err, errors.CategoryValidation, "invalid smtp config")
		}
	}

	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, envError(key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, envError(key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, envError(key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_ADDR", &c.Server.Addr)
	dur("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	flag("SERVER_DEBUG", &c.Server.Debug)

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)

	str("AUTH_SIGNING_KEY", &c.Auth.SigningKey)
	str("AUTH_CONTEXT_KEY", &c.Auth.ContextKey)
	num("AUTH_TOKEN_EXPIRATION", &c.Auth.TokenExpiration)
	str("AUTH_TOKEN_LOOKUP", &c.Auth.TokenLookup)
	str("AUTH_ISSUER", &c.Auth.Issuer)
	if v, ok := lookup(envPrefix + "AUTH_AUDIENCE"); ok {
		c.Auth.Audience = splitList(v)
	}
	dur("AUTH_RESET_TOKEN_TTL", &c.Auth.ResetTokenTTL)
	dur("AUTH_STORE_TIMEOUT", &c.Auth.StoreTimeout)
	num("AUTH_BCRYPT_COST", &c.Auth.BcryptCost)
	flag("AUTH_REFRESH_ROLE_ON_VALIDATE", &c.Auth.RefreshRoleOnValidate)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	num("REDIS_LOGIN_ATTEMPTS", &c.Redis.LoginAttempts)
	num("REDIS_RESET_ATTEMPTS", &c.Redis.ResetAttempts)
	dur("REDIS_WINDOW", &c.Redis.Window)

	str("SMTP_HOST", &c.SMTP.Host)
	num("SMTP_PORT", &c.SMTP.Port)
	str("SMTP_USERNAME", &c.SMTP.Username)
	str("SMTP_PASSWORD", &c.SMTP.Password)
	str("SMTP_FROM", &c.SMTP.From)
	str("PUBLIC_BASE_URL", &c.SMTP.PublicBaseURL)

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func envError(key string, err error) error {
	return errors.Wrap(err, errors.CategoryBadInput, "invalid environment override").
		WithMetadata(map[string]any{"variable": envPrefix + key})
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (a AuthConfig) GetSigningKey() string           { return a.SigningKey }
func (a AuthConfig) GetSigningMethod() string        { return a.SigningMethod }
func (a AuthConfig) GetContextKey() string           { return a.ContextKey }
func (a AuthConfig) GetTokenExpiration() int         { return a.TokenExpiration }
func (a AuthConfig) GetTokenLookup() string          { return a.TokenLookup }
func (a AuthConfig) GetAuthScheme() string           { return a.AuthScheme }
func (a AuthConfig) GetIssuer() string               { return a.Issuer }
func (a AuthConfig) GetAudience() []string           { return a.Audience }
func (a AuthConfig) GetResetTokenTTL() time.Duration { return a.ResetTokenTTL }
func (a AuthConfig) GetStoreTimeout() time.Duration  { return a.StoreTimeout }
func (a AuthConfig) GetBcryptCost() int              { return a.BcryptCost }
func (a AuthConfig) GetRefreshRoleOnValidate() bool  { return a.RefreshRoleOnValidate }
