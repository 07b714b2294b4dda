package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestRedisCounterIncrements(t *testing.T) {
	addr := os.Getenv("ARCADEPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set ARCADEPOS_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	counter := NewRedisCounter(NewRedisClient(addr, "", 0))
	t.Cleanup(func() { _ = counter.Close() })
	if err := counter.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := fmt.Sprintf("seq:test:%d", time.Now().UnixNano())
	expire := time.Now().Add(time.Minute)
	first, err := counter.IncrementCounter(ctx, key, expire)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	second, err := counter.IncrementCounter(ctx, key, expire)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected 1,2 got %d,%d", first, second)
	}
}

func TestRedisCounterAdvancesPastExistingNumbers(t *testing.T) {
	addr := os.Getenv("ARCADEPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set ARCADEPOS_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	counter := NewRedisCounter(NewRedisClient(addr, "", 0))
	t.Cleanup(func() { _ = counter.Close() })

	key := fmt.Sprintf("seq:test:%d", time.Now().UnixNano())
	expire := time.Now().Add(time.Minute)
	if _, err := counter.IncrementCounter(ctx, key, expire); err != nil {
		t.Fatalf("increment: %v", err)
	}
	advanced, err := counter.AdvanceCounter(ctx, key, 7, expire)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	next, _ := counter.IncrementCounter(ctx, key, expire)
	if advanced != 8 || next != 9 {
		t.Fatalf("expected 8,9 got %d,%d", advanced, next)
	}
}
