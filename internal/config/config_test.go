package config

import (
	"io"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(nil, envMap(nil), io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreRedis || cfg.Addr != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PasteExpiry() != 24*time.Hour || cfg.ThrottleWindow() != time.Hour {
		t.Fatalf("unexpected durations %s %s", cfg.PasteExpiry(), cfg.ThrottleWindow())
	}
}

func TestEnvironmentFallback(t *testing.T) {
	cfg, err := Load(nil, envMap(map[string]string{
		"PBSERVER_STORE":                   "bolt",
		"PBSERVER_DATA":                    "/tmp/x.db",
		"PBSERVER_MAX_BODY_SIZE":           "2048",
		"PBSERVER_READ_LIMIT":              "7",
		"PBSERVER_BEHIND_PROXY":            "true",
		"PBSERVER_SWEEP_INTERVAL":          "30s",
		"PBSERVER_THROTTLE_WINDOW_SECONDS": " 120 ",
	}), io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreBolt || cfg.DataPath != "/tmp/x.db" {
		t.Fatalf("store settings not read from env: %+v", cfg)
	}
	if cfg.MaxBodySize != 2048 || cfg.ReadLimit != 7 || !cfg.BehindProxy {
		t.Fatalf("limits not read from env: %+v", cfg)
	}
	if cfg.SweepInterval != 30*time.Second || cfg.ThrottleWindow() != 2*time.Minute {
		t.Fatalf("durations not read from env: %+v", cfg)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	cfg, err := Load(
		[]string{"-store", "memory", "-write-limit", "3"},
		envMap(map[string]string{"PBSERVER_STORE": "mongodb", "PBSERVER_WRITE_LIMIT": "50"}),
		io.Discard,
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.WriteLimit != 3 {
		t.Fatalf("flags must win over env: %+v", cfg)
	}
}

func TestMalformedEnvironment(t *testing.T) {
	_, err := Load(nil, envMap(map[string]string{"PBSERVER_READ_LIMIT": "lots"}), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "PBSERVER_READ_LIMIT") {
		t.Fatalf("expected error naming the variable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "etcd" }},
		{"zero body size", func(c *Config) { c.MaxBodySize = 0 }},
		{"zero expiry", func(c *Config) { c.PasteExpirySeconds = 0 }},
		{"negative limit", func(c *Config) { c.WriteLimit = -1 }},
		{"zero window", func(c *Config) { c.ThrottleWindowSeconds = 0 }},
		{"relative base url", func(c *Config) { c.BaseURL = "/paste" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty redis url", func(c *Config) { c.RedisURL = "" }},
		{"empty bolt path", func(c *Config) { c.Store = StoreBolt; c.DataPath = "" }},
		{"empty dynamodb table", func(c *Config) { c.Store = StoreDynamoDB; c.DynamoDBTable = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	cfg := Default()
	cfg.BaseURL = "https://paste.example.com"
	cfg.ReadLimit = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestUnknownFlag(t *testing.T) {
	if _, err := Load([]string{"-nope"}, envMap(nil), io.Discard); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}
