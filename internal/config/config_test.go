package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TokenTTL != 12*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.TickInterval != time.Second {
		t.Fatalf("unexpected tick interval %s", cfg.TickInterval)
	}
	if cfg.Location == nil || cfg.Issuer != "fieldtrack-auth" {
		t.Fatalf("expected location and issuer defaults, got %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("FIELDTRACK_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("FIELDTRACK_APP_TIMEZONE", "America/Denver")
	t.Setenv("FIELDTRACK_STORAGE_PUBLIC_BASE_URL", "https://field.example.com/")
	t.Setenv("FIELDTRACK_TIMERS_TICK_INTERVAL", "250ms")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SigningSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.SigningSecret)
	}
	if cfg.Location.String() != "America/Denver" {
		t.Fatalf("unexpected location %s", cfg.Location)
	}
	if cfg.PublicBaseURL != "https://field.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PublicBaseURL)
	}
	if cfg.TickInterval != 250*time.Millisecond {
		t.Fatalf("unexpected tick interval %s", cfg.TickInterval)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name    string
		values  map[string]any
		message string
	}{
		{name: "missing secret", values: map[string]any{}, message: "auth.signing_secret"},
		{name: "blank cookie", values: map[string]any{"auth.signing_secret": "s", "auth.cookie_name": " "}, message: "auth.cookie_name"},
		{name: "zero ttl", values: map[string]any{"auth.signing_secret": "s", "auth.token_ttl_minutes": 0}, message: "auth.token_ttl_minutes"},
		{name: "zero tick", values: map[string]any{"auth.signing_secret": "s", "timers.tick_interval": "0s"}, message: "timers.tick_interval"},
		{name: "bad timezone", values: map[string]any{"auth.signing_secret": "s", "app.timezone": "Mars/Olympus"}, message: "app.timezone"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.message) {
				t.Fatalf("expected error mentioning %s, got %v", testCase.message, err)
			}
		})
	}
}
