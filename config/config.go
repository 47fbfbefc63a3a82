/*
Package config loads server configuration.

PRECEDENCE (highest first):
  1. Command-line flags
  2. Environment variables (WALLET_*)
  3. .env file in the working directory, if present
  4. Defaults

VARIABLES:
  WALLET_PORT                    HTTP port (8080)
  WALLET_DB_PATH                 SQLite path (wallet.db); ":memory:" for tests
  WALLET_DATABASE_URL            PostgreSQL DSN; when set, SQLite is not used
  WALLET_JWT_SECRET              HS256 secret for bearer tokens (required)
  WALLET_TIMEZONE                IANA zone for report windows (Local)
  WALLET_ALLOW_NEGATIVE_BALANCE  Skip the balance check on request/approve
  WALLET_LENIENT_LIST_FILTERS    Drop malformed withdrawal list filters silently
  WALLET_ENABLE_SCENARIOS        Mount the demo scenario routes
  WALLET_CORS_ORIGINS            Comma-separated allowed origins (*)
  WALLET_AUDIT_INTERVAL          Reconciliation audit period, 0 disables (1h)
  WALLET_ENV                     development | production (development)
  WALLET_LOG_LEVEL               debug | info | warn | error (info)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DBPath      string
	DatabaseURL string
	JWTSecret   string
	Timezone    string

	AllowNegativeBalance bool
	LenientListFilters   bool
	EnableScenarios      bool

	CORSOrigins   []string
	AuditInterval time.Duration

	Env      string
	LogLevel string
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool { return c.Env == "production" }

// Location resolves Timezone; empty means time.Local.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("WALLET_JWT_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.AuditInterval < 0 {
		return errors.New("audit interval must not be negative")
	}
	return nil
}

// Load reads .env (if any), the environment, then args.
func Load(args []string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return parse(args, os.LookupEnv)
}

func parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	env := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}
	envInt := func(key string, def int) int {
		if i, err := strconv.Atoi(env(key, "")); err == nil {
			return i
		}
		return def
	}
	envBool := func(key string) bool {
		b, _ := strconv.ParseBool(env(key, "false"))
		return b
	}
	envDuration := func(key string, def time.Duration) time.Duration {
		if d, err := time.ParseDuration(env(key, "")); err == nil {
			return d
		}
		return def
	}

	var (
		c       Config
		origins string
	)
	fs := flag.NewFlagSet("wallet-server", flag.ContinueOnError)
	fs.IntVar(&c.Port, "port", envInt("WALLET_PORT", 8080), "HTTP server port")
	fs.StringVar(&c.DBPath, "db", env("WALLET_DB_PATH", "wallet.db"), "SQLite database path")
	fs.StringVar(&c.DatabaseURL, "database-url", env("WALLET_DATABASE_URL", ""), "PostgreSQL DSN (overrides -db)")
	fs.StringVar(&c.JWTSecret, "jwt-secret", env("WALLET_JWT_SECRET", ""), "HS256 secret for bearer tokens")
	fs.StringVar(&c.Timezone, "tz", env("WALLET_TIMEZONE", "Local"), "IANA timezone for report windows")
	fs.BoolVar(&c.AllowNegativeBalance, "allow-negative-balance", envBool("WALLET_ALLOW_NEGATIVE_BALANCE"), "skip balance check on withdrawals")
	fs.BoolVar(&c.LenientListFilters, "lenient-list-filters", envBool("WALLET_LENIENT_LIST_FILTERS"), "ignore malformed withdrawal list filters")
	fs.BoolVar(&c.EnableScenarios, "scenarios", envBool("WALLET_ENABLE_SCENARIOS"), "mount demo scenario routes")
	fs.StringVar(&origins, "cors-origins", env("WALLET_CORS_ORIGINS", "*"), "comma-separated allowed CORS origins")
	fs.DurationVar(&c.AuditInterval, "audit-interval", envDuration("WALLET_AUDIT_INTERVAL", time.Hour), "reconciliation audit period (0 disables)")
	fs.StringVar(&c.Env, "env", env("WALLET_ENV", "development"), "development or production")
	fs.StringVar(&c.LogLevel, "log-level", env("WALLET_LOG_LEVEL", "info"), "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.CORSOrigins = append(c.CORSOrigins, o)
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
