package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mrjoshuak/go-compositor/internal/parallel"
	"github.com/mrjoshuak/go-compositor/memory"
)

var errFormat = errors.New("unsupported output format")

// loadImage decodes any registered image format.
func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// saveImage encodes img in the format named by the extension of path.
func saveImage(path string, img image.Image) (err error) {
	var encode func(f *os.File) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".tif", ".tiff":
		encode = func(f *os.File) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}
	case ".bmp":
		encode = func(f *os.File) error { return bmp.Encode(f, img) }
	default:
		return fmt.Errorf("%w: %q", errFormat, filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return encode(f)
}

// toRaster converts img into a color raster with (0, 0) at its top-left
// pixel. Values are premultiplied and normalized to [0, 1].
func toRaster(img image.Image) (*memory.Buffer, error) {
	b := img.Bounds()
	raster, err := memory.NewRaster(memory.DataTypeColor, image.Rect(0, 0, b.Dx(), b.Dy()))
	if err != nil {
		return nil, err
	}
	parallel.For(parallel.DefaultConfig(), b.Dy(), func(y int) {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			raster.Write(x, y, []float32{
				float32(r) / 0xffff,
				float32(g) / 0xffff,
				float32(bl) / 0xffff,
				float32(a) / 0xffff,
			})
		}
	})
	return raster, nil
}

// fromRaster converts a color raster into a 16-bit image, clamping values
// to [0, 1].
func fromRaster(raster *memory.Buffer) *image.RGBA64 {
	w, h := raster.Width(), raster.Height()
	origin := raster.Rect().Min
	img := image.NewRGBA64(image.Rect(0, 0, w, h))
	parallel.For(parallel.DefaultConfig(), h, func(y int) {
		var px [4]float32
		for x := 0; x < w; x++ {
			raster.Read(px[:], origin.X+x, origin.Y+y)
			a := to16(px[3])
			img.SetRGBA64(x, y, color.RGBA64{
				R: min(to16(px[0]), a),
				G: min(to16(px[1]), a),
				B: min(to16(px[2]), a),
				A: a,
			})
		}
	})
	return img
}

func to16(v float32) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xffff
	default:
		return uint16(v*0xffff + 0.5)
	}
}
