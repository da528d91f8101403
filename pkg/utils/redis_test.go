package utils

import (
	"context"
	"testing"
	"time"
)

func TestAcquireLock_ValidatesArgs(t *testing.T) {
	ctx := context.Background()
	if _, _, err := AcquireLock(ctx, nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := ReleaseLock(ctx, nil, "k", "tok"); err == nil {
		t.Fatalf("expected error for nil client on release")
	}
}

func TestRedisLocker_NilClientErrors(t *testing.T) {
	l := NewRedisLocker(nil, 0)
	if l.ttl != time.Minute {
		t.Fatalf("expected default ttl, got %s", l.ttl)
	}
	release, ok, err := l.Acquire(context.Background(), "channel-link:x")
	if err == nil || ok {
		t.Fatalf("expected error without redis")
	}
	release()
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{}.withDefaults()
	if c.PoolSize != 10 || c.DialTimeout != 3*time.Second || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	c = RedisConfig{PoolSize: 3}.withDefaults()
	if c.PoolSize != 3 {
		t.Fatalf("explicit value overridden: %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}
