package utils

import (
	"testing"
	"time"
)

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()

	if cfg.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %v", cfg.DialTimeout)
	}
	if cfg.PoolSize != 20 {
		t.Fatalf("unexpected pool size: %d", cfg.PoolSize)
	}
	if cfg.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected ping timeout: %v", cfg.PingTimeout)
	}
}

func TestRedisConfigKeepsExplicitValues(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379", PoolSize: 5, DialTimeout: time.Second}.withDefaults()

	if cfg.PoolSize != 5 || cfg.DialTimeout != time.Second {
		t.Fatalf("explicit values overridden: %+v", cfg)
	}
}
