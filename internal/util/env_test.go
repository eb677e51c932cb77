package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"true", false, true},
		{"YES", false, true},
		{"0", true, false},
		{"off", true, false},
		{"garbage", true, true},
	}
	for _, tc := range cases {
		t.Setenv("CONVOGATE_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("CONVOGATE_TEST_BOOL", tc.def); got != tc.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.expected)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("CONVOGATE_TEST_INT", "42")
	if got := ParseIntEnv("CONVOGATE_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("CONVOGATE_TEST_INT", "not a number")
	if got := ParseIntEnv("CONVOGATE_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("CONVOGATE_TEST_DUR", "30s")
	if got := ParseDurationEnv("CONVOGATE_TEST_DUR", time.Minute); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	t.Setenv("CONVOGATE_TEST_DUR", "soon")
	if got := ParseDurationEnv("CONVOGATE_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected default 1m, got %v", got)
	}
}
