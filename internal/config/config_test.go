package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("LISTENER_ACK_WAIT", "")
	t.Setenv("ORDER_EXPIRATION_WINDOW", "")
	t.Setenv("BROKER_CONNECT_RETRIES", "")

	cfg, err := Load("orders")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ServiceName != "orders" || cfg.QueueGroup() != "orders-service" {
		t.Fatalf("unexpected service naming %q / %q", cfg.ServiceName, cfg.QueueGroup())
	}
	if cfg.AckWait != 5*time.Second {
		t.Errorf("expected ack wait 5s, got %v", cfg.AckWait)
	}
	if cfg.ExpirationWindow != 15*time.Minute {
		t.Errorf("expected expiration window 15m, got %v", cfg.ExpirationWindow)
	}
	if cfg.ConnectRetries != 5 || cfg.ConnectMaxDelay != 30*time.Second {
		t.Errorf("unexpected connect settings %d / %v", cfg.ConnectRetries, cfg.ConnectMaxDelay)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LISTENER_ACK_WAIT", "250ms")
	t.Setenv("LISTENER_MAX_DELIVERIES", "3")
	t.Setenv("ORDER_EXPIRATION_WINDOW", "1m")

	cfg, err := Load("payments")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.AckWait != 250*time.Millisecond || cfg.MaxDeliveries != 3 || cfg.ExpirationWindow != time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"LISTENER_ACK_WAIT":       "soon",
		"BROKER_CONNECT_RETRIES":  "0",
		"LISTENER_MAX_DELIVERIES": "many",
		"OUTBOX_POLL_INTERVAL":    "0s",
		"OUTBOX_BATCH_SIZE":       "0",
		"SCHEDULER_POLL_INTERVAL": "-250ms",
		"SCHEDULER_LEASE":         "0s",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load("tickets"); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
