package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/chat"
	"github.com/AvinashSuthar/chat-backend/internal/models"
)

func TestConfigureFeedQueueMemory(t *testing.T) {
	queue, err := configureFeedQueue("", chat.RedisQueueConfig{}, slog.Default())
	if err != nil {
		t.Fatalf("configureFeedQueue returned error: %v", err)
	}
	if queue == nil {
		t.Fatal("configureFeedQueue returned nil queue")
	}
}

func TestConfigureFeedQueueRedisMissingAddress(t *testing.T) {
	_, err := configureFeedQueue("redis", chat.RedisQueueConfig{}, slog.Default())
	if err == nil {
		t.Fatal("expected error when redis addr is missing")
	}
}

func TestConfigureFeedQueueUnknownDriver(t *testing.T) {
	_, err := configureFeedQueue("kafka", chat.RedisQueueConfig{}, slog.Default())
	if err == nil || !strings.Contains(err.Error(), "kafka") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestResolveSessionStoreConfig(t *testing.T) {
	cfg, err := resolveSessionStoreConfig("", "", "")
	if err != nil {
		t.Fatalf("resolveSessionStoreConfig returned error: %v", err)
	}
	if cfg.Driver != "memory" {
		t.Fatalf("expected memory default, got %q", cfg.Driver)
	}

	cfg, err = resolveSessionStoreConfig("", "", "postgres://example")
	if err != nil {
		t.Fatalf("resolveSessionStoreConfig returned error: %v", err)
	}
	if cfg.Driver != "postgres" || cfg.DSN != "postgres://example" {
		t.Fatalf("expected implicit postgres driver, got %+v", cfg)
	}

	if _, err := resolveSessionStoreConfig("postgres", "", ""); err == nil {
		t.Fatal("expected error for postgres driver without DSN")
	}

	if _, err := resolveSessionStoreConfig("etcd", "", ""); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestResolveListenAddrDefaults(t *testing.T) {
	if addr := resolveListenAddr("", "production", ""); addr != ":80" {
		t.Fatalf("expected production default :80, got %q", addr)
	}
	if addr := resolveListenAddr("", "development", ""); addr != ":8080" {
		t.Fatalf("expected development default :8080, got %q", addr)
	}
	if addr := resolveListenAddr(":9999", "production", ":7777"); addr != ":9999" {
		t.Fatalf("expected flag to win, got %q", addr)
	}
	if addr := resolveListenAddr("", "development", ":7777"); addr != ":7777" {
		t.Fatalf("expected env to win over default, got %q", addr)
	}
}

func TestResolveHelpers(t *testing.T) {
	if v := resolveDuration("90s", "10s", time.Minute); v != 90*time.Second {
		t.Fatalf("flag duration should win, got %v", v)
	}
	if v := resolveDuration("", "10s", time.Minute); v != 10*time.Second {
		t.Fatalf("env duration should win over fallback, got %v", v)
	}
	if v := resolveDuration("", "garbage", time.Minute); v != time.Minute {
		t.Fatalf("invalid duration should fall back, got %v", v)
	}
	if v := resolveInt("", "12"); v != 12 {
		t.Fatalf("expected env int, got %d", v)
	}
	if v := resolveInt("-5", ""); v != 0 {
		t.Fatalf("negative int should resolve to zero, got %d", v)
	}
	if v := resolveFloat("2.5", ""); v != 2.5 {
		t.Fatalf("expected flag float, got %v", v)
	}
	if !resolveBool("", "true") {
		t.Fatal("expected env bool true")
	}
	if resolveBool("", "not-a-bool") {
		t.Fatal("invalid bool should resolve to false")
	}
	if got := splitAndTrim(" a, ,b ,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected splitAndTrim result: %v", got)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	flags := parseFlags([]string{
		"-addr", ":4444",
		"-mode", "production",
		"-session-store", "memory",
		"-feed-driver", "memory",
		"-rate-login-limit", "5",
	})
	if flags.addr != ":4444" {
		t.Fatalf("unexpected addr: %q", flags.addr)
	}
	if flags.mode != "production" {
		t.Fatalf("unexpected mode: %q", flags.mode)
	}
	if flags.loginLimit != "5" {
		t.Fatalf("unexpected login limit: %q", flags.loginLimit)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFeedLogWorkerLogsEvents(t *testing.T) {
	var buf lockedBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	feed := chat.NewMemoryQueue(8)

	stop := startFeedLogWorker(context.Background(), logger, feed)
	defer stop()

	event := chat.NewMessageEvent(models.Message{
		ID:             "m1",
		ConversationID: "ch:general",
		Seq:            7,
		SenderID:       "u1",
	})
	if err := feed.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for buf.String() == "" {
		select {
		case <-deadline:
			t.Fatal("expected a feed log entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
	stop()

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.SplitN(strings.TrimSpace(buf.String()), "\n", 2)[0]), &payload); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if payload["message_id"] != "m1" {
		t.Fatalf("expected message id in log, got %v", payload)
	}
	if payload["conversation_id"] != "ch:general" {
		t.Fatalf("expected conversation id in log, got %v", payload)
	}
}

func TestFeedLogWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	feed := chat.NewMemoryQueue(1)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	stop := startFeedLogWorker(ctx, logger, feed)
	cancel()
	stop()
}
