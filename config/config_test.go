package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := "service_name: calculator\nredis:\n  addr: 10.0.0.5:6380\nharakiri:\n  timeout: 30s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ServiceName != "calculator" {
		t.Fatalf("expect service_name=calculator, got %q", s.ServiceName)
	}
	if s.Redis.Addr != "10.0.0.5:6380" {
		t.Fatalf("expect redis.addr override, got %q", s.Redis.Addr)
	}
	if s.Harakiri.Timeout != 30*time.Second {
		t.Fatalf("expect harakiri.timeout=30s, got %v", s.Harakiri.Timeout)
	}
	if s.Transport.QueueCapacity != 10000 {
		t.Fatalf("expect default queue_capacity, got %d", s.Transport.QueueCapacity)
	}
}

func TestLoadMissingServiceNameFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("redis:\n  addr: 127.0.0.1:6379\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expect an error when service_name is unset")
	}
}

func TestLoadFromEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("service_name: from-env\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv(settingsEnvVar, path)

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ServiceName != "from-env" {
		t.Fatalf("expect service_name=from-env, got %q", s.ServiceName)
	}
}
