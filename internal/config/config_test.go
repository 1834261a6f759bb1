package config

import (
	"testing"
	"time"
)

func TestGetDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset uses default", "", 30 * time.Second},
		{"bare number is seconds", "45", 45 * time.Second},
		{"go duration", "2m", 2 * time.Minute},
		{"garbage uses default", "soon", 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getDuration("TEST_DURATION", 30*time.Second); got != tt.want {
				t.Errorf("getDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("INSTANCE_ID", "node-a")

	cfg := Load()

	if cfg.Worker.ReaperInterval != time.Minute {
		t.Errorf("ReaperInterval = %v, want 1m", cfg.Worker.ReaperInterval)
	}
	if cfg.Poll.DefaultTimeLimitMinutes != 1 {
		t.Errorf("DefaultTimeLimitMinutes = %d, want 1", cfg.Poll.DefaultTimeLimitMinutes)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis should be disabled without REDIS_ADDR")
	}
	if cfg.Server.InstanceID != "node-a" {
		t.Errorf("InstanceID = %q", cfg.Server.InstanceID)
	}
	if !cfg.Server.StackTrace {
		t.Error("stack traces are on by default")
	}
}

func TestGetBool(t *testing.T) {
	for _, v := range []string{"true", "1", "yes"} {
		t.Setenv("TEST_BOOL", v)
		if !getBool("TEST_BOOL", false) {
			t.Errorf("getBool(%q) = false", v)
		}
	}
	t.Setenv("TEST_BOOL", "off")
	if getBool("TEST_BOOL", true) {
		t.Error("getBool(off) = true")
	}
}
