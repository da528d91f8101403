package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080, PublicURL: "http://localhost:8080"},
		DB:        DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "channels"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379},
		Auth:      AuthConfig{JWTSecret: "secret"},
		Evolution: EvolutionConfig{BaseURL: "http://evolution:8080", APIKey: "key"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "EVOLUTION_API_BASE_URL", "EVOLUTION_API_KEY", "APP_PUBLIC_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Evolution.Timeout != 15*time.Second {
		t.Fatalf("expected 15s gateway timeout, got %s", c.Evolution.Timeout)
	}
	if c.Evolution.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", c.Evolution.MaxAttempts)
	}
	if c.Evolution.Backoff != time.Second {
		t.Fatalf("expected 1s backoff, got %s", c.Evolution.Backoff)
	}
	if c.Agents.EncryptionKey != "secret" {
		t.Fatalf("expected encryption key to fall back to JWT secret")
	}
	if c.Link.LockTTL != 144*time.Second {
		t.Fatalf("expected lock ttl to cover the gateway chain, got %s", c.Link.LockTTL)
	}
}

func TestGatewayBudgets(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// 3 x 15s timeouts + 1s + 2s backoff.
	if got := c.Evolution.CallBudget(); got != 48*time.Second {
		t.Fatalf("expected 48s call budget, got %s", got)
	}
	if got := c.HTTPWriteTimeout(); got != 154*time.Second {
		t.Fatalf("expected 154s write timeout, got %s", got)
	}

	c.Evolution.MaxAttempts = 1
	c.Evolution.Timeout = 2 * time.Second
	if got := c.HTTPWriteTimeout(); got != 30*time.Second {
		t.Fatalf("expected 30s floor, got %s", got)
	}

	c = validConfig()
	c.Link.LockTTL = 5 * time.Minute
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Link.LockTTL != 5*time.Minute {
		t.Fatalf("explicit lock ttl overridden: %s", c.Link.LockTTL)
	}
}

func TestValidate_RejectsRelativeGatewayURL(t *testing.T) {
	c := validConfig()
	c.Evolution.BaseURL = "evolution:8080"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-absolute gateway URL")
	}
}

func TestValidate_TimeoutBounds(t *testing.T) {
	c := validConfig()
	c.Evolution.Timeout = 2 * time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for oversized timeout")
	}
}
