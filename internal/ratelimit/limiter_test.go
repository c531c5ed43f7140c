package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalAllowsBurstThenBlocks(t *testing.T) {
	l := NewLocal()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < RuleMessage.Limit; i++ {
		ok, err := l.Allow(ctx, "7", RuleMessage)
		if err != nil || !ok {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "7", RuleMessage); ok {
		t.Fatal("sixth message in the window should be blocked")
	}

	// Another identifier has its own bucket.
	if ok, _ := l.Allow(ctx, "8", RuleMessage); !ok {
		t.Error("other identifier should not be throttled")
	}

	// One token refills every Window/Limit.
	now = now.Add(RuleMessage.Window / time.Duration(RuleMessage.Limit))
	if ok, _ := l.Allow(ctx, "7", RuleMessage); !ok {
		t.Error("a refilled token should be usable")
	}
}

func TestLocalRulesAreIndependent(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	for i := 0; i < RuleMessage.Limit; i++ {
		l.Allow(ctx, "7", RuleMessage)
	}
	if ok, _ := l.Allow(ctx, "7", RuleMedia); !ok {
		t.Error("media rule should not share the message bucket")
	}
}

func TestLocalPrune(t *testing.T) {
	l := NewLocal()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	l.Allow(context.Background(), "7", RuleMessage)

	now = now.Add(2 * time.Hour)
	if n := l.Prune(time.Hour); n != 1 {
		t.Errorf("expected 1 pruned limiter, got %d", n)
	}
}

func TestRedisFixedWindow(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer client.Close()

	l := NewRedis(client, "chatsync_test:")
	rule := Rule{Key: "rl:test:", Limit: 2, Window: time.Minute}
	client.Del(ctx, "chatsync_test:rl:test:u1")
	t.Cleanup(func() { client.Del(ctx, "chatsync_test:rl:test:u1") })

	for i := 0; i < 2; i++ {
		if ok, err := l.Allow(ctx, "u1", rule); err != nil || !ok {
			t.Fatalf("call %d should be allowed: %v", i+1, err)
		}
	}
	if ok, _ := l.Allow(ctx, "u1", rule); ok {
		t.Error("third call should be blocked")
	}
	if n, _ := l.Remaining(ctx, "u1", rule); n != 0 {
		t.Errorf("expected 0 remaining, got %d", n)
	}
	ttl := client.TTL(ctx, "chatsync_test:rl:test:u1").Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected window TTL, got %v", ttl)
	}
}
