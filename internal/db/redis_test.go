package db

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/config"
)

func TestConnectRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	cfg := &config.Config{Redis: config.RedisConfig{URL: "redis://" + mr.Addr()}}
	client, err := ConnectRedis(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ConnectRedis: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := mr.Get("k"); err != nil || got != "v" {
		t.Fatalf("unexpected value %q (%v)", got, err)
	}
}

func TestConnectRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	cfg := &config.Config{Redis: config.RedisConfig{URL: "redis://" + addr}}
	if _, err := ConnectRedis(context.Background(), cfg); err == nil {
		t.Fatal("expected ping failure against a closed server")
	}
}

func TestApplyRedisDefaultsKeepsExplicitValues(t *testing.T) {
	opt := &redis.Options{ReadTimeout: time.Second, PoolSize: 3}
	applyRedisDefaults(opt)

	if opt.ReadTimeout != time.Second || opt.PoolSize != 3 {
		t.Fatalf("explicit values overwritten: %+v", opt)
	}
	if opt.WriteTimeout != 5*time.Second || opt.MaxRetries != 2 {
		t.Fatalf("defaults not applied: %+v", opt)
	}
}
