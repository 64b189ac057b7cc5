// Package envconfig reads compositor settings from COMPOSITOR_*
// environment variables.
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mrjoshuak/go-compositor/internal/logging"
)

// Var returns the value of an environment variable with surrounding
// whitespace and quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// String returns a getter for a string variable.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// BoolWithDefault returns a getter for a boolean variable. Set but
// unparsable values count as true.
func BoolWithDefault(key string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean variable defaulting to false.
func Bool(key string) func() bool {
	withDefault := BoolWithDefault(key)
	return func() bool {
		return withDefault(false)
	}
}

// Uint returns a getter for an unsigned variable. Invalid values are
// logged and replaced by defaultValue.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				logging.Logger().Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 is Uint for 64-bit values.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				logging.Logger().Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

var (
	// Threads is the number of chunk workers. 0 means one per CPU.
	Threads = Uint("COMPOSITOR_THREADS", 0)
	// ChunkSize is the chunk edge length in pixels. 0 means the default.
	ChunkSize = Uint("COMPOSITOR_CHUNK_SIZE", 0)
	// SpillDir is the directory receiving spill files.
	SpillDir = String("COMPOSITOR_SPILL_DIR")
	// SpillCodec names the spill payload codec.
	SpillCodec = String("COMPOSITOR_SPILL_CODEC")
	// MemoryLimit caps the bytes of resident chunk rasters. 0 means unlimited.
	MemoryLimit = Uint64("COMPOSITOR_MEMORY_LIMIT", 0)
)

// LogLevel returns the log level selected by COMPOSITOR_DEBUG: unset or
// false is INFO, true or 1 is DEBUG, and larger integers go further
// below DEBUG in steps of 4.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("COMPOSITOR_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"COMPOSITOR_THREADS":      {"COMPOSITOR_THREADS", Threads(), "Number of chunk workers (default: one per CPU)"},
		"COMPOSITOR_CHUNK_SIZE":   {"COMPOSITOR_CHUNK_SIZE", ChunkSize(), "Chunk edge length in pixels (default 256)"},
		"COMPOSITOR_SPILL_DIR":    {"COMPOSITOR_SPILL_DIR", SpillDir(), "Directory for spilled chunks (default: system temp dir)"},
		"COMPOSITOR_SPILL_CODEC":  {"COMPOSITOR_SPILL_CODEC", SpillCodec(), "Spill codec: none, zip or half (default none)"},
		"COMPOSITOR_MEMORY_LIMIT": {"COMPOSITOR_MEMORY_LIMIT", MemoryLimit(), "Maximum bytes of resident chunk memory (default unlimited)"},
		"COMPOSITOR_DEBUG":        {"COMPOSITOR_DEBUG", LogLevel(), "Show additional debug information (e.g. COMPOSITOR_DEBUG=1)"},
	}
}
