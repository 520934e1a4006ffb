package app

import (
	"context"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/auth-core/internal/infra/config"
	"github.com/arklim/auth-core/internal/repository/memory"
	redisrepo "github.com/arklim/auth-core/internal/repository/redis"
)

func TestOpenCountersInProcessRegistersSweepers(t *testing.T) {
	cfg := &config.AppConfig{}
	counters, err := OpenCounters(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenCounters returned error: %v", err)
	}
	defer counters.Close()

	if _, ok := counters.Blocklist.(*memory.IPBlocklist); !ok {
		t.Fatalf("expected in-process blocklist, got %T", counters.Blocklist)
	}
	var store, throttle, blocklist bool
	for _, sweeper := range counters.Sweepers {
		switch sweeper.(type) {
		case *memory.CounterStore:
			store = true
		case *memory.ActivityThrottle:
			throttle = true
		case *memory.IPBlocklist:
			blocklist = true
		}
	}
	if !store || !throttle || !blocklist {
		t.Fatalf("every in-process store must be swept: counters=%v throttle=%v blocklist=%v", store, throttle, blocklist)
	}

	// Throttle slots are reclaimed once their interval lapses.
	if ok, _ := counters.Throttle.Acquire(context.Background(), "session:s1", time.Nanosecond); !ok {
		t.Fatalf("expected first acquire to win")
	}
	time.Sleep(time.Millisecond)
	swept := 0
	for _, sweeper := range counters.Sweepers {
		swept += sweeper.Sweep()
	}
	if swept != 1 {
		t.Fatalf("expected the lapsed throttle slot to be swept, got %d", swept)
	}
}

func TestOpenCountersRedisHasNoSweepers(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer server.Close()
	port, _ := strconv.Atoi(server.Port())

	cfg := &config.AppConfig{Redis: config.RedisSettings{Host: server.Host(), Port: port, BlockPrefix: "blk"}}
	counters, err := OpenCounters(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenCounters returned error: %v", err)
	}
	defer counters.Close()

	if len(counters.Sweepers) != 0 {
		t.Fatalf("redis keys expire on their own, got %d sweepers", len(counters.Sweepers))
	}
	if _, ok := counters.Blocklist.(*redisrepo.IPBlocklist); !ok {
		t.Fatalf("expected redis blocklist, got %T", counters.Blocklist)
	}
	if err := counters.Blocklist.Block(context.Background(), "203.0.113.7", time.Minute); err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if !server.Exists("blk:203.0.113.7") {
		t.Fatalf("expected block to use the configured prefix")
	}
}
