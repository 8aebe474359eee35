package config

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("TEST_TIMEOUT", "7")
	d, err := Duration("TEST_TIMEOUT", time.Second)
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if d != 7*time.Second {
		t.Fatalf("expected 7s, got %s", d)
	}

	t.Setenv("TEST_TIMEOUT", "1500ms")
	d, err = Duration("TEST_TIMEOUT", time.Second)
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if d != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", d)
	}

	t.Setenv("TEST_TIMEOUT", "soon")
	if _, err := Duration("TEST_TIMEOUT", time.Second); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("TEST_LIMIT", "")
	n, err := Int("TEST_LIMIT", 60)
	if err != nil || n != 60 {
		t.Fatalf("expected fallback 60, got %d (err=%v)", n, err)
	}
	t.Setenv("TEST_LIMIT", "x")
	if _, err := Int("TEST_LIMIT", 60); err == nil {
		t.Fatal("expected error for non-integer")
	}

	t.Setenv("TEST_FLAG", "off")
	if Bool("TEST_FLAG", true) {
		t.Fatal("expected false for off")
	}
	t.Setenv("TEST_FLAG", "maybe")
	if !Bool("TEST_FLAG", true) {
		t.Fatal("expected fallback for unknown value")
	}
}

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
