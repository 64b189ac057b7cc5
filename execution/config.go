// Package execution runs compiled compositing graphs.
//
// A compiled graph is a list of execution groups. Each group computes the
// chunks of one memory.Proxy; a group only starts once every group it reads
// from has completed all of its chunks. Chunks of a ready group run in
// parallel on a fixed-size worker pool.
package execution

import (
	"fmt"
	"log/slog"

	"github.com/mrjoshuak/go-compositor/internal/envconfig"
	"github.com/mrjoshuak/go-compositor/internal/logging"
	"github.com/mrjoshuak/go-compositor/memory"
	"github.com/mrjoshuak/go-compositor/spill"
)

// Config configures a Compositor.
type Config struct {
	// Workers is the number of chunk workers. 0 means runtime.GOMAXPROCS(0);
	// 1 executes chunks sequentially.
	Workers int

	// ChunkSize is the chunk edge length. 0 means memory.DefaultChunkSize.
	ChunkSize int

	// Width and Height are the render size given to graphs whose output has
	// no intrinsic resolution.
	Width, Height int

	// SpillDir receives spill files. "" means os.TempDir().
	SpillDir string

	// SpillCodec encodes spill files.
	SpillCodec spill.Codec

	// MemoryLimit caps the bytes of resident chunk rasters. 0 means unlimited.
	MemoryLimit int64

	// SpillIntermediates spills every intermediate image to disk as soon as
	// its group completes. Consumers read it back chunk by chunk.
	SpillIntermediates bool
}

// DefaultConfig returns a configuration using every CPU, the default chunk
// size and uncompressed spill files.
func DefaultConfig() Config {
	return Config{ChunkSize: memory.DefaultChunkSize, SpillCodec: spill.CodecNone}
}

// ConfigFromEnv returns DefaultConfig overridden by the COMPOSITOR_*
// environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if n := envconfig.Threads(); n > 0 {
		cfg.Workers = int(n)
	}
	if n := envconfig.ChunkSize(); n > 0 {
		cfg.ChunkSize = int(n)
	}
	cfg.SpillDir = envconfig.SpillDir()
	if s := envconfig.SpillCodec(); s != "" {
		c, err := spill.ParseCodec(s)
		if err != nil {
			return cfg, fmt.Errorf("execution: COMPOSITOR_SPILL_CODEC: %w", err)
		}
		cfg.SpillCodec = c
	}
	cfg.MemoryLimit = int64(envconfig.MemoryLimit())
	return cfg, nil
}

// SetLogger configures the logger used by every compositor package.
// Passing nil disables logging, which is the default.
//
// Groups are logged at Info when they complete; chunk lifecycle is logged
// at Debug; failed spills are logged at Warn.
func SetLogger(l *slog.Logger) {
	logging.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return logging.Logger()
}
