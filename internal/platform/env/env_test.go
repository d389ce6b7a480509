package env

import (
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("CONVEYOR_ENV_STRING_MISSING", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("CONVEYOR_ENV_STRING_KEY", "value")
	got := String("CONVEYOR_ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestInt_Override(t *testing.T) {
	t.Setenv("CONVEYOR_ENV_INT_KEY", "42")
	got, err := Int("CONVEYOR_ENV_INT_KEY", 7)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%d, want 42", got)
	}
}

func TestInt_Invalid(t *testing.T) {
	t.Setenv("CONVEYOR_ENV_INT_BAD", "forty-two")
	if _, err := Int("CONVEYOR_ENV_INT_BAD", 7); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestBool_Default(t *testing.T) {
	got, err := Bool("CONVEYOR_ENV_BOOL_MISSING", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if !got {
		t.Fatalf("Bool()=%v, want true", got)
	}
}

func TestDuration_Override(t *testing.T) {
	t.Setenv("CONVEYOR_ENV_DURATION_KEY", "250ms")
	got, err := Duration("CONVEYOR_ENV_DURATION_KEY", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", got)
	}
}

func TestDuration_Invalid(t *testing.T) {
	t.Setenv("CONVEYOR_ENV_DURATION_BAD", "soon")
	if _, err := Duration("CONVEYOR_ENV_DURATION_BAD", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}
