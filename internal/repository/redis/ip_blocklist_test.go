package redis

import (
	"context"
	"testing"
	"time"
)

func TestIPBlocklist_BlockExpiresWithTTL(t *testing.T) {
	client, server := newTestRedis(t)
	list := NewIPBlocklist(client, "blk")
	ctx := context.Background()

	if err := list.Block(ctx, "203.0.113.7", time.Hour); err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if !server.Exists("blk:203.0.113.7") {
		t.Fatalf("expected namespaced key to be written")
	}

	remaining, err := list.BlockedFor(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("BlockedFor returned error: %v", err)
	}
	if remaining <= 0 || remaining > time.Hour {
		t.Fatalf("expected remaining within (0, 1h], got %v", remaining)
	}

	server.FastForward(61 * time.Minute)

	remaining, err = list.BlockedFor(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("BlockedFor after expiry returned error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected ban to lapse, got %v", remaining)
	}
}

func TestIPBlocklist_UnknownAndPersistentKeysAreNotBlocked(t *testing.T) {
	client, server := newTestRedis(t)
	list := NewIPBlocklist(client, "")
	ctx := context.Background()

	remaining, err := list.BlockedFor(ctx, "198.51.100.1")
	if err != nil || remaining != 0 {
		t.Fatalf("expected unknown ip to be clear, got %v err=%v", remaining, err)
	}

	// A key without expiry reports -1 from PTTL.
	if err := server.Set("auth:ip:blocked:198.51.100.2", "1"); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	remaining, err = list.BlockedFor(ctx, "198.51.100.2")
	if err != nil || remaining != 0 {
		t.Fatalf("expected key without ttl to be ignored, got %v err=%v", remaining, err)
	}
}

func TestIPBlocklist_Unblock(t *testing.T) {
	client, server := newTestRedis(t)
	list := NewIPBlocklist(client, "blk")
	ctx := context.Background()

	if err := list.Block(ctx, "203.0.113.9", 10*time.Minute); err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if err := list.Unblock(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("Unblock returned error: %v", err)
	}
	if server.Exists("blk:203.0.113.9") {
		t.Fatalf("expected key to be removed")
	}
}

func TestIPBlocklist_RejectsNonPositiveTTL(t *testing.T) {
	client, _ := newTestRedis(t)
	list := NewIPBlocklist(client, "blk")

	if err := list.Block(context.Background(), "203.0.113.9", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
