package envconfig

import (
	"log/slog"
	"testing"
)

func TestVar(t *testing.T) {
	t.Setenv("COMPOSITOR_TEST_VAR", `  "quoted"  `)
	if got := Var("COMPOSITOR_TEST_VAR"); got != "quoted" {
		t.Errorf("Var() = %q, want %q", got, "quoted")
	}
}

func TestThreads(t *testing.T) {
	cases := map[string]uint{
		"":    0,
		"8":   8,
		"-1":  0,
		"abc": 0,
		"'4'": 4,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("COMPOSITOR_THREADS", k)
			if got := Threads(); got != v {
				t.Errorf("Threads() = %d, want %d", got, v)
			}
		})
	}
}

func TestMemoryLimit(t *testing.T) {
	t.Setenv("COMPOSITOR_MEMORY_LIMIT", "1073741824")
	if got := MemoryLimit(); got != 1<<30 {
		t.Errorf("MemoryLimit() = %d", got)
	}
	t.Setenv("COMPOSITOR_MEMORY_LIMIT", "lots")
	if got := MemoryLimit(); got != 0 {
		t.Errorf("MemoryLimit() = %d, want default", got)
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		"yes":   true,
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("COMPOSITOR_TEST_BOOL", k)
			if got := Bool("COMPOSITOR_TEST_BOOL")(); got != v {
				t.Errorf("Bool() = %v, want %v", got, v)
			}
		})
	}
	t.Setenv("COMPOSITOR_TEST_BOOL", "")
	if !BoolWithDefault("COMPOSITOR_TEST_BOOL")(true) {
		t.Error("BoolWithDefault() ignored default")
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"true":  slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("COMPOSITOR_DEBUG", k)
			if got := LogLevel(); got != v {
				t.Errorf("LogLevel() = %v, want %v", got, v)
			}
		})
	}
}

func TestAsMap(t *testing.T) {
	t.Setenv("COMPOSITOR_SPILL_CODEC", "zip")
	m := AsMap()
	if len(m) != 6 {
		t.Errorf("AsMap() has %d entries", len(m))
	}
	if got := m["COMPOSITOR_SPILL_CODEC"].Value; got != "zip" {
		t.Errorf("COMPOSITOR_SPILL_CODEC = %v", got)
	}
}
