// comprender runs a small compositing graph over an image file.
//
// Usage:
//
//	comprender render [flags] <input> <output>
//	comprender env
//	comprender version
//
// render loads a PNG, JPEG, BMP, TIFF or WebP image, optionally scales and
// blurs it, mixes the result back over the source image and writes a PNG, TIFF
// or BMP file. Chunk size, worker count, memory limit and spill settings
// default to the COMPOSITOR_* environment variables.
//
// Exit codes:
//
//	0: Success
//	1: Error
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
