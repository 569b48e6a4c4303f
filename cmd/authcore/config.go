package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/service/hasher"
)

const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	defaultListenAddr         = "localhost:8000"
	defaultLoggingLevel       = logger.LevelInfo
	defaultEnvironment        = logger.EnvProduction
	defaultStore              = StorePostgres
	defaultRedisAddr          = "localhost:6379"
	defaultAccessTokenExpiry  = "15m"
	defaultRefreshTokenExpiry = "7d"
)

// Options are read in order: defaults, YAML file, '.env' file, environment and flags. The latter wins
type Config struct {
	// Path to YAML config file. Optional
	ConfigFile string `yaml:"-"`

	LogLevel    string `yaml:"log_level"`
	Environment string `yaml:"environment"`

	// Address on which the service will be run
	ListenAddr string `yaml:"listen_address"`

	// Account store: 'postgres' or 'redis'
	Store string `yaml:"store"`

	// Database to connect to if postgres store is used
	DatabaseDSN string `yaml:"database_uri"`

	// Redis connection if redis store is used
	RedisAddr     string `yaml:"redis_address"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Secrets to sign access and refresh tokens. Must differ
	AccessTokenSecret  string `yaml:"access_token_secret"`
	RefreshTokenSecret string `yaml:"refresh_token_secret"`

	// Token lifetimes as Go durations, days allowed as well: '15m', '10d'
	AccessTokenExpiry  string `yaml:"access_token_expiry"`
	RefreshTokenExpiry string `yaml:"refresh_token_expiry"`

	TokenIssuer string `yaml:"token_issuer"`

	// Password hashing: 'bcrypt' or 'argon2' and its work factor (0 is algorithm default)
	PasswordHasher   string `yaml:"password_hasher"`
	PasswordHashCost int    `yaml:"password_hash_cost"`

	CookieSecure           bool `yaml:"cookie_secure"`
	RevokeOnPasswordChange bool `yaml:"revoke_on_password_change"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		Environment:        defaultEnvironment,
		ListenAddr:         defaultListenAddr,
		Store:              defaultStore,
		RedisAddr:          defaultRedisAddr,
		AccessTokenExpiry:  defaultAccessTokenExpiry,
		RefreshTokenExpiry: defaultRefreshTokenExpiry,
		PasswordHasher:     hasher.AlgBcrypt,
		CookieSecure:       true,
	}
}

// Load options from YAML file. Keys absent in file keep their values
func (c *Config) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("can't read config file. Err: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("can't parse config file %s. Err: %w", path, err)
	}

	return nil
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"CONFIG_FILE":               setString(&c.ConfigFile),
		"RUN_ADDRESS":               setString(&c.ListenAddr),
		"LOG_LEVEL":                 setString(&c.LogLevel),
		"ENVIRONMENT":               setString(&c.Environment),
		"STORE":                     setString(&c.Store),
		"DATABASE_URI":              setString(&c.DatabaseDSN),
		"REDIS_ADDRESS":             setString(&c.RedisAddr),
		"REDIS_PASSWORD":            setString(&c.RedisPassword),
		"REDIS_DB":                  setInt(&c.RedisDB),
		"ACCESS_TOKEN_SECRET":       setString(&c.AccessTokenSecret),
		"ACCESS_TOKEN_EXPIRY":       setString(&c.AccessTokenExpiry),
		"REFRESH_TOKEN_SECRET":      setString(&c.RefreshTokenSecret),
		"REFRESH_TOKEN_EXPIRY":      setString(&c.RefreshTokenExpiry),
		"TOKEN_ISSUER":              setString(&c.TokenIssuer),
		"PASSWORD_HASHER":           setString(&c.PasswordHasher),
		"PASSWORD_HASH_COST":        setInt(&c.PasswordHashCost),
		"COOKIE_SECURE":             setBool(&c.CookieSecure),
		"REVOKE_ON_PASSWORD_CHANGE": setBool(&c.RevokeOnPasswordChange),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("authcore", pflag.ContinueOnError)

	fs.StringVarP(&c.ConfigFile, "config", "c", c.ConfigFile, "Path to YAML config file")
	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.Store, "store", c.Store, "Account store (postgres, redis)")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisAddr, "redis-address", c.RedisAddr, "Redis address")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")
	fs.StringVar(&c.AccessTokenSecret, "access-secret", c.AccessTokenSecret, "Secret to sign access tokens")
	fs.StringVar(&c.AccessTokenExpiry, "access-expiry", c.AccessTokenExpiry, "Access token lifetime (15m, 1h)")
	fs.StringVar(&c.RefreshTokenSecret, "refresh-secret", c.RefreshTokenSecret, "Secret to sign refresh tokens")
	fs.StringVar(&c.RefreshTokenExpiry, "refresh-expiry", c.RefreshTokenExpiry, "Refresh token lifetime (24h, 10d)")
	fs.StringVar(&c.TokenIssuer, "token-issuer", c.TokenIssuer, "Issuer claim of tokens")
	fs.StringVar(&c.PasswordHasher, "password-hasher", c.PasswordHasher, "Password hashing algorithm (bcrypt, argon2)")
	fs.IntVar(&c.PasswordHashCost, "password-hash-cost", c.PasswordHashCost, "Password hashing work factor, 0 for default")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Send token cookies over https only")
	fs.BoolVar(&c.RevokeOnPasswordChange, "revoke-on-password-change", c.RevokeOnPasswordChange, "Drop session when password changed")

	return fs
}

func (c *Config) ParseFlags(args []string) error {
	return c.flagSet().Parse(args)
}

// Find config file path before everything else is parsed: flag wins over environment
func configFilePath(getenv func(string) string, args []string) (string, error) {
	var path string

	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.StringVarP(&path, "config", "c", getenv("CONFIG_FILE"), "")

	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", err
	}

	return path, nil
}

// Parse duration with days support: '10d', '1d12h'
func parseDuration(value string) (time.Duration, error) {
	days, rest, found := strings.Cut(value, "d")
	if !found {
		return time.ParseDuration(value)
	}

	n, err := strconv.Atoi(days)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}

	d := time.Duration(n) * 24 * time.Hour
	if rest == "" {
		return d, nil
	}

	extra, err := time.ParseDuration(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d + extra, nil
}

// Check options which could be checked without connecting to anything
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case StorePostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("database uri is required for postgres store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q, use %q or %q", c.Store, StorePostgres, StoreRedis))
	}

	if c.AccessTokenSecret == "" || c.RefreshTokenSecret == "" {
		errs = append(errs, errors.New("access and refresh token secrets are required"))
	}

	if _, err := parseDuration(c.AccessTokenExpiry); err != nil {
		errs = append(errs, fmt.Errorf("access token expiry: %w", err))
	}
	if _, err := parseDuration(c.RefreshTokenExpiry); err != nil {
		errs = append(errs, fmt.Errorf("refresh token expiry: %w", err))
	}

	return errors.Join(errs...)
}
