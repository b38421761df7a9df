package main

import (
	"testing"
	"time"

	"warungpos/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected weak auth secret to be rejected")
	}

	cfg := config.Config{
		AuthSecret: "0123456789abcdef0123456789abcdef",
		Gateway:    config.GatewayConfig{RequireSignature: true},
	}
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected required signature without server key to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	cfg := config.Config{
		AuthSecret: "0123456789abcdef0123456789abcdef",
		Gateway:    config.GatewayConfig{RequireSignature: true, ServerKey: "SB-Mid-server-abc"},
	}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestWriteTimeoutCoversGatewayRoundTrip(t *testing.T) {
	if got := writeTimeout(config.GatewayConfig{TimeoutSeconds: 15}); got < 15*time.Second {
		t.Fatalf("expected write timeout above gateway timeout, got %s", got)
	}
	if got := writeTimeout(config.GatewayConfig{TimeoutSeconds: 1}); got != 10*time.Second {
		t.Fatalf("expected 10s floor, got %s", got)
	}
}
