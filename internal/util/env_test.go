package util

import (
	"testing"
	"time"
)

func TestGetEnvNumeric(t *testing.T) {
	t.Setenv("RELMARK_TEST_NUM", "12.5")
	if got := GetEnvNumeric("RELMARK_TEST_NUM", 3); got != 12.5 {
		t.Fatalf("expected 12.5, got %v", got)
	}

	t.Setenv("RELMARK_TEST_NUM", "not a number")
	if got := GetEnvNumeric("RELMARK_TEST_NUM", 3); got != 3 {
		t.Fatalf("expected default 3 for garbage, got %v", got)
	}

	if got := GetEnvNumeric("RELMARK_TEST_UNSET", 7); got != 7 {
		t.Fatalf("expected default 7 for unset, got %v", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name  string
		value string
		def   bool
		want  bool
	}{
		{name: "true", value: "true", def: false, want: true},
		{name: "one counts as true", value: "1", def: false, want: true},
		{name: "false", value: "false", def: true, want: false},
		{name: "garbage keeps default", value: "maybe", def: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RELMARK_TEST_BOOL", tt.value)
			if got := GetEnvBool("RELMARK_TEST_BOOL", tt.def); got != tt.want {
				t.Fatalf("GetEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	if !GetEnvBool("RELMARK_TEST_UNSET", true) {
		t.Fatal("expected default true for unset")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("RELMARK_TEST_TIMEOUT", "90")
	if got := GetEnvDuration("RELMARK_TEST_TIMEOUT", 30); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}

	t.Setenv("RELMARK_TEST_TIMEOUT", "0.5")
	if got := GetEnvDuration("RELMARK_TEST_TIMEOUT", 30); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms for fractional seconds, got %v", got)
	}

	if got := GetEnvDuration("RELMARK_TEST_UNSET", 30); got != 30*time.Second {
		t.Fatalf("expected default 30s, got %v", got)
	}
}
