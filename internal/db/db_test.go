package db

import (
	"context"
	"testing"
	"time"
)

func TestNewWithInvalidURL(t *testing.T) {
	_, err := New(context.Background(), "postgres://invalid:5432/nonexistent?connect_timeout=1", WithConnectAttempts(1))
	if err == nil {
		t.Fatal("expected error for invalid database URL, got nil")
	}
}

func TestNewWithMalformedURL(t *testing.T) {
	_, err := New(context.Background(), "::not-a-url::")
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestNewStopsRetryingOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(ctx, "postgres://invalid:5432/nonexistent?connect_timeout=1", WithConnectAttempts(50))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("retries should stop when the context ends, took %v", time.Since(start))
	}
}

func TestRunMigrationsMissingDir(t *testing.T) {
	if _, err := RunMigrations("postgres://invalid:5432/x?connect_timeout=1", t.TempDir()+"/missing"); err == nil {
		t.Fatal("expected error for missing migrations dir")
	}
}
