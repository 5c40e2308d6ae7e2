package utils

import (
	"testing"
	"time"
)

func TestPoolDefaults(t *testing.T) {
	cfg := PoolConfig{}.withDefaults()

	if cfg.MaxOpenConns != 16 || cfg.MaxIdleConns != 8 {
		t.Fatalf("unexpected pool sizes: %+v", cfg)
	}
	if cfg.ConnMaxLifetime != 15*time.Minute {
		t.Fatalf("unexpected lifetime: %v", cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime != 2*time.Minute {
		t.Fatalf("unexpected idle time: %v", cfg.ConnMaxIdleTime)
	}
	if cfg.PingTimeout != 3*time.Second {
		t.Fatalf("unexpected ping timeout: %v", cfg.PingTimeout)
	}
}

func TestPoolKeepsExplicitValues(t *testing.T) {
	cfg := PoolConfig{MaxOpenConns: 4, PingTimeout: time.Second}.withDefaults()

	if cfg.MaxOpenConns != 4 || cfg.PingTimeout != time.Second {
		t.Fatalf("explicit values overridden: %+v", cfg)
	}
	if cfg.MaxIdleConns != 8 {
		t.Fatalf("missing default for idle conns: %+v", cfg)
	}
}
