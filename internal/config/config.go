package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file picked up by godotenv).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Evolution EvolutionConfig
	Agents    AgentsConfig
	Link      LinkConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL of the agent runtime.
	// Used to build agent callback URLs when an agent has no card URL.
	PublicURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// EvolutionConfig configures the outbound messaging gateway client.
type EvolutionConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

type AgentsConfig struct {
	// EncryptionKey protects agent API keys at rest. Falls back to JWT_SECRET.
	EncryptionKey string
}

type LinkConfig struct {
	LockTTL time.Duration
}

func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimSpace(os.Getenv("APP_PUBLIC_URL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Evolution.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("EVOLUTION_API_BASE_URL")), "/")
	c.Evolution.APIKey = os.Getenv("EVOLUTION_API_KEY")
	c.Evolution.Timeout = mustDuration("EVOLUTION_TIMEOUT")
	c.Evolution.Backoff = mustDuration("EVOLUTION_BACKOFF")
	if v := strings.TrimSpace(os.Getenv("EVOLUTION_MAX_ATTEMPTS")); v != "" {
		n, err := mustInt("EVOLUTION_MAX_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Evolution.MaxAttempts = n
	}

	c.Agents.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	c.Link.LockTTL = mustDuration("LINK_LOCK_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_URL is required"))
	} else if !isHTTPURL(c.App.PublicURL) {
		errs = append(errs, fmt.Errorf("APP_PUBLIC_URL must be an absolute http(s) URL, got %q", c.App.PublicURL))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Evolution.BaseURL == "" {
		errs = append(errs, errors.New("EVOLUTION_API_BASE_URL is required"))
	} else if !isHTTPURL(c.Evolution.BaseURL) {
		errs = append(errs, fmt.Errorf("EVOLUTION_API_BASE_URL must be an absolute http(s) URL, got %q", c.Evolution.BaseURL))
	}
	if c.Evolution.APIKey == "" {
		errs = append(errs, errors.New("EVOLUTION_API_KEY is required"))
	}
	if c.Evolution.Timeout <= 0 {
		c.Evolution.Timeout = 15 * time.Second
	}
	if c.Evolution.Timeout < time.Second || c.Evolution.Timeout > time.Minute {
		errs = append(errs, fmt.Errorf("EVOLUTION_TIMEOUT must be between 1s and 60s, got %s", c.Evolution.Timeout))
	}
	if c.Evolution.MaxAttempts == 0 {
		c.Evolution.MaxAttempts = 3
	}
	if c.Evolution.MaxAttempts < 1 || c.Evolution.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("EVOLUTION_MAX_ATTEMPTS must be between 1 and 10, got %d", c.Evolution.MaxAttempts))
	}
	if c.Evolution.Backoff <= 0 {
		c.Evolution.Backoff = time.Second
	}

	if c.Agents.EncryptionKey == "" {
		c.Agents.EncryptionKey = c.Auth.JWTSecret
	}
	if c.Link.LockTTL <= 0 {
		// A hung gateway must not outlive the lock it runs under.
		c.Link.LockTTL = max(time.Minute, c.GatewayChainBudget())
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// gatewayCallsPerRequest is the longest chain of gateway calls one API
// request makes: create instance (or connection check), find bots, then
// create or update the bot.
const gatewayCallsPerRequest = 3

// CallBudget is the worst-case duration of one gateway call with every
// attempt timing out: MaxAttempts timeouts plus the 1..n-1 linear backoffs.
func (e EvolutionConfig) CallBudget() time.Duration {
	n := time.Duration(e.MaxAttempts)
	if n <= 0 {
		return 0
	}
	return n*e.Timeout + e.Backoff*n*(n-1)/2
}

// GatewayChainBudget bounds how long a single request can spend in the
// gateway client.
func (c Config) GatewayChainBudget() time.Duration {
	return gatewayCallsPerRequest * c.Evolution.CallBudget()
}

// HTTPWriteTimeout keeps the connection open until the slowest gateway chain
// has returned and its upstream error can still be written.
func (c Config) HTTPWriteTimeout() time.Duration {
	return max(30*time.Second, c.GatewayChainBudget()+10*time.Second)
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isHTTPURL(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
