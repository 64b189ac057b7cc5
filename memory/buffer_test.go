package memory

import (
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mrjoshuak/go-compositor/spill"
)

func newTestProxy(t *testing.T, dt DataType, w, h, chunk int) *Proxy {
	t.Helper()
	p, err := NewProxy(ProxyOptions{
		Name:      t.Name(),
		DataType:  dt,
		Width:     w,
		Height:    h,
		ChunkSize: chunk,
		SpillDir:  t.TempDir(),
		Allocator: NewAllocator(0),
	})
	if err != nil {
		t.Fatalf("NewProxy() error = %v", err)
	}
	return p
}

// fillPattern writes a unique value into every channel of every pixel.
func fillPattern(b *Buffer) {
	ch := b.Channels()
	px := make([]float32, ch)
	r := b.Rect()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			for c := range px {
				px[c] = float32(x)*1000 + float32(y) + float32(c)*0.25
			}
			b.Write(x, y, px)
		}
	}
}

// completeChunk creates chunk n with the test pattern and makes it AVAILABLE.
func completeChunk(t *testing.T, p *Proxy, n int) *Buffer {
	t.Helper()
	b, err := p.NewChunkBuffer(n)
	if err != nil {
		t.Fatalf("NewChunkBuffer(%d) error = %v", n, err)
	}
	fillPattern(b)
	if err := b.SetCreated(); err != nil {
		t.Fatal(err)
	}
	if err := b.SetAvailable(); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestDataTypeChannels(t *testing.T) {
	tests := []struct {
		dt   DataType
		want int
	}{
		{DataTypeValue, 1},
		{DataTypeVector, 3},
		{DataTypeColor, 4},
		{DataType(0), 0},
	}
	for _, tt := range tests {
		if got := tt.dt.Channels(); got != tt.want {
			t.Errorf("%v.Channels() = %d, want %d", tt.dt, got, tt.want)
		}
	}
}

func TestChunkBufferConstruction(t *testing.T) {
	p := newTestProxy(t, DataTypeVector, 100, 70, 32)
	b, err := p.NewChunkBuffer(3)
	if err != nil {
		t.Fatalf("NewChunkBuffer() error = %v", err)
	}

	if b.State() != StateAllocated {
		t.Errorf("State() = %v, want allocated", b.State())
	}
	if want := image.Rect(96, 0, 100, 32); b.Rect() != want {
		t.Errorf("Rect() = %v, want %v", b.Rect(), want)
	}
	if b.Width() != 4 || b.Height() != 32 {
		t.Errorf("size = %dx%d, want 4x32", b.Width(), b.Height())
	}
	if got := b.AllocatedMemorySize(); got != 4*32*3*4 {
		t.Errorf("AllocatedMemorySize() = %d, want %d", got, 4*32*3*4)
	}
	if b.IsTemporary() || b.ChunkNumber() != 3 {
		t.Errorf("IsTemporary() = %v, ChunkNumber() = %d", b.IsTemporary(), b.ChunkNumber())
	}
	if b.Filename() != "" {
		t.Errorf("Filename() = %q before any spill", b.Filename())
	}

	if _, err := p.NewChunkBuffer(3); !errors.Is(err, ErrChunkExists) {
		t.Errorf("duplicate NewChunkBuffer() error = %v, want ErrChunkExists", err)
	}
	if _, err := p.NewChunkBuffer(p.NumChunks()); !errors.Is(err, ErrChunkRange) {
		t.Errorf("NewChunkBuffer(out of range) error = %v, want ErrChunkRange", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	p := newTestProxy(t, DataTypeValue, 8, 8, 8)
	b, _ := p.NewChunkBuffer(0)

	if err := b.SetAvailable(); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("SetAvailable() from allocated error = %v", err)
	}
	if err := b.MakeAvailable(false); !errors.Is(err, ErrNotComputed) {
		t.Errorf("MakeAvailable() before compute error = %v, want ErrNotComputed", err)
	}
	if err := b.SetCreated(); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateCreated {
		t.Errorf("State() = %v, want created", b.State())
	}
	if err := b.SetAvailable(); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateAvailable {
		t.Errorf("State() = %v, want available", b.State())
	}
	if err := b.Free(); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateFree || b.AllocatedMemorySize() != 0 {
		t.Errorf("after Free: state %v, size %d", b.State(), b.AllocatedMemorySize())
	}
	if err := b.MakeAvailable(true); !errors.Is(err, ErrFreed) {
		t.Errorf("MakeAvailable() after Free error = %v, want ErrFreed", err)
	}
}

func TestReadRoundTrip(t *testing.T) {
	p := newTestProxy(t, DataTypeColor, 64, 64, 16)
	b := completeChunk(t, p, 5) // rect (16,16)-(32,32)

	want := make([]float32, 4)
	got := make([]float32, 4)
	r := b.Rect()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			for c := range want {
				want[c] = float32(x)*1000 + float32(y) + float32(c)*0.25
			}
			b.Read(got, x, y)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("Read(%d,%d) mismatch (-want +got):\n%s", x, y, diff)
			}
		}
	}
}

func TestReadStorageLayout(t *testing.T) {
	p := newTestProxy(t, DataTypeVector, 20, 20, 10)
	b := completeChunk(t, p, 3) // rect (10,10)-(20,20)

	data := b.Data()
	x, y, c := 13, 17, 2
	off := ((y-10)*10 + (x - 10)) * 3
	if want := float32(x)*1000 + float32(y) + float32(c)*0.25; data[off+c] != want {
		t.Errorf("data[%d] = %v, want %v", off+c, data[off+c], want)
	}
}

func TestReadClamps(t *testing.T) {
	p := newTestProxy(t, DataTypeValue, 32, 32, 16)
	b := completeChunk(t, p, 0) // rect (0,0)-(16,16)

	tests := []struct {
		x, y   int
		cx, cy int
	}{
		{-5, 3, 0, 3},
		{20, 3, 15, 3},
		{4, -100, 4, 0},
		{4, 16, 4, 15},
		{-1, -1, 0, 0},
		{99, 99, 15, 15},
	}
	got := make([]float32, 1)
	want := make([]float32, 1)
	for _, tt := range tests {
		b.Read(got, tt.x, tt.y)
		b.Read(want, tt.cx, tt.cy)
		if got[0] != want[0] {
			t.Errorf("Read(%d,%d) = %v, want value at (%d,%d) = %v", tt.x, tt.y, got[0], tt.cx, tt.cy, want[0])
		}

		b.ReadCubic(got, float32(tt.x), float32(tt.y))
		if got[0] != want[0] {
			t.Errorf("ReadCubic(%d,%d) = %v, want %v", tt.x, tt.y, got[0], want[0])
		}
		b.ReadBilinear(got, float32(tt.x), float32(tt.y))
		if got[0] != want[0] {
			t.Errorf("ReadBilinear(%d,%d) = %v, want %v", tt.x, tt.y, got[0], want[0])
		}
	}

	// Far outside with a fractional part still lands on the edge pixel.
	b.ReadCubic(got, -7.5, 2)
	b.Read(want, 0, 2)
	if got[0] != want[0] {
		t.Errorf("ReadCubic(-7.5, 2) = %v, want %v", got[0], want[0])
	}
}

func TestReadCubicExactAtPixels(t *testing.T) {
	p := newTestProxy(t, DataTypeColor, 16, 16, 16)
	b := completeChunk(t, p, 0)

	got := make([]float32, 4)
	want := make([]float32, 4)
	for y := 0; y < 16; y += 3 {
		for x := 0; x < 16; x += 5 {
			b.ReadCubic(got, float32(x), float32(y))
			b.Read(want, x, y)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ReadCubic(%d,%d) mismatch (-want +got):\n%s", x, y, diff)
			}
		}
	}
}

func TestReadCubicLinearRamp(t *testing.T) {
	// Catmull-Rom reproduces linear functions exactly (away from edges).
	p := newTestProxy(t, DataTypeValue, 16, 16, 16)
	b, _ := p.NewChunkBuffer(0)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			b.Write(x, y, []float32{float32(2*x + y)})
		}
	}

	got := make([]float32, 1)
	b.ReadCubic(got, 5.25, 7.5)
	if want := float32(2*5.25 + 7.5); math.Abs(float64(got[0]-want)) > 1e-4 {
		t.Errorf("ReadCubic(5.25, 7.5) = %v, want %v", got[0], want)
	}
	b.ReadBilinear(got, 5.25, 7.5)
	if want := float32(2*5.25 + 7.5); math.Abs(float64(got[0]-want)) > 1e-4 {
		t.Errorf("ReadBilinear(5.25, 7.5) = %v, want %v", got[0], want)
	}
	b.ReadNearest(got, 5.75, 7.5)
	if want := float32(2*5 + 7); got[0] != want {
		t.Errorf("ReadNearest(5.75, 7.5) = %v, want %v", got[0], want)
	}
}

func TestSaveToDiskRoundTrip(t *testing.T) {
	for _, codec := range []spill.Codec{spill.CodecNone, spill.CodecZip} {
		t.Run(codec.String(), func(t *testing.T) {
			p, err := NewProxy(ProxyOptions{
				Name: "spill", DataType: DataTypeColor, Width: 40, Height: 40,
				ChunkSize: 16, SpillDir: t.TempDir(), SpillCodec: codec,
			})
			if err != nil {
				t.Fatal(err)
			}
			b := completeChunk(t, p, 4)
			before := append([]float32(nil), b.Data()...)

			if err := b.SaveToDisk(); err != nil {
				t.Fatalf("SaveToDisk() error = %v", err)
			}
			if b.State() != StateStored {
				t.Errorf("State() = %v, want stored", b.State())
			}
			if b.AllocatedMemorySize() != 0 {
				t.Errorf("AllocatedMemorySize() = %d after spill", b.AllocatedMemorySize())
			}
			file := b.Filename()
			if _, err := os.Stat(file); err != nil {
				t.Fatalf("spill file missing: %v", err)
			}

			if err := b.MakeAvailable(false); err != nil {
				t.Fatalf("MakeAvailable() error = %v", err)
			}
			if b.State() != StateAvailable {
				t.Errorf("State() = %v, want available", b.State())
			}
			after := b.Data()
			if len(after) != len(before) {
				t.Fatalf("len = %d, want %d", len(after), len(before))
			}
			for i := range before {
				if math.Float32bits(after[i]) != math.Float32bits(before[i]) {
					t.Fatalf("value %d = %v, want %v", i, after[i], before[i])
				}
			}
			if _, err := os.Stat(file); !os.IsNotExist(err) {
				t.Errorf("spill file not deleted after read back: %v", err)
			}
			if b.Filename() == "" {
				t.Error("Filename() cleared after read back")
			}

			// A second spill uses a fresh name.
			if err := b.SaveToDisk(); err != nil {
				t.Fatal(err)
			}
			if b.Filename() == file {
				t.Errorf("re-spill reused file name %q", file)
			}
			if err := b.Free(); err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(b.Filename()); !os.IsNotExist(err) {
				t.Errorf("spill file not deleted by Free: %v", err)
			}
		})
	}
}

func TestSaveToDiskRefusals(t *testing.T) {
	p := newTestProxy(t, DataTypeValue, 16, 16, 8)

	allocated, _ := p.NewChunkBuffer(0)
	if err := allocated.SaveToDisk(); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("SaveToDisk() on allocated error = %v, want ErrNotAvailable", err)
	}

	tmp, err := NewTemporaryBuffer(p, image.Rect(0, 0, 4, 4))
	if err != nil {
		t.Fatal(err)
	}
	if tmp.State() != StateTemporary || !tmp.IsTemporary() || tmp.ChunkNumber() != -1 {
		t.Errorf("temporary buffer: state %v, chunk %d", tmp.State(), tmp.ChunkNumber())
	}
	if err := tmp.SaveToDisk(); !errors.Is(err, ErrTemporary) {
		t.Errorf("SaveToDisk() on temporary error = %v, want ErrTemporary", err)
	}

	b := completeChunk(t, p, 1)
	if err := b.MakeAvailable(true); err != nil {
		t.Fatal(err)
	}
	if err := b.SaveToDisk(); !errors.Is(err, ErrInUse) {
		t.Errorf("SaveToDisk() with user error = %v, want ErrInUse", err)
	}
	if b.State() != StateAvailable || b.AllocatedMemorySize() == 0 {
		t.Errorf("refused spill changed buffer: state %v", b.State())
	}
}

func TestSaveToDiskFailureKeepsBufferResident(t *testing.T) {
	p, err := NewProxy(ProxyOptions{
		Name: "bad", DataType: DataTypeValue, Width: 8, Height: 8,
		SpillDir: filepath.Join(t.TempDir(), "does", "not", "exist"),
	})
	if err != nil {
		t.Fatal(err)
	}
	b := completeChunk(t, p, 0)
	before := append([]float32(nil), b.Data()...)

	err = b.SaveToDisk()
	if !errors.Is(err, ErrSpill) {
		t.Fatalf("SaveToDisk() error = %v, want ErrSpill", err)
	}
	if b.State() != StateAvailable {
		t.Errorf("State() = %v, want available", b.State())
	}
	if b.Filename() != "" {
		t.Errorf("Filename() = %q after failed spill", b.Filename())
	}
	if diff := cmp.Diff(before, b.Data()); diff != "" {
		t.Errorf("raster changed by failed spill (-want +got):\n%s", diff)
	}
}

func TestMakeAvailableMissingFile(t *testing.T) {
	p := newTestProxy(t, DataTypeValue, 8, 8, 8)
	b := completeChunk(t, p, 0)
	if err := b.SaveToDisk(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(b.Filename()); err != nil {
		t.Fatal(err)
	}
	if err := b.MakeAvailable(true); !errors.Is(err, ErrReadBack) {
		t.Errorf("MakeAvailable() error = %v, want ErrReadBack", err)
	}
	if b.Users() != 0 {
		t.Errorf("Users() = %d after failed read back", b.Users())
	}
	if b.State() != StateStored {
		t.Errorf("State() = %v, want stored", b.State())
	}
}

func TestMakeAvailableCorruptFile(t *testing.T) {
	p := newTestProxy(t, DataTypeValue, 8, 8, 8)
	b := completeChunk(t, p, 0)
	if err := b.SaveToDisk(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b.Filename(), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := b.MakeAvailable(false); !errors.Is(err, ErrReadBack) || !errors.Is(err, spill.ErrCorrupt) {
		t.Errorf("MakeAvailable() error = %v, want ErrReadBack wrapping spill.ErrCorrupt", err)
	}
}

func TestUserCounting(t *testing.T) {
	p := newTestProxy(t, DataTypeValue, 8, 8, 8)
	b := completeChunk(t, p, 0)

	const n = 10
	for i := 0; i < n; i++ {
		b.AddUser()
	}
	if err := b.SaveToDisk(); !errors.Is(err, ErrInUse) {
		t.Errorf("SaveToDisk() with %d users error = %v", n, err)
	}
	for i := 0; i < n; i++ {
		if err := b.RemoveUser(); err != nil {
			t.Fatalf("RemoveUser() %d error = %v", i, err)
		}
	}
	if err := b.RemoveUser(); !errors.Is(err, ErrRefCount) {
		t.Errorf("RemoveUser() below zero error = %v, want ErrRefCount", err)
	}
	if err := b.SaveToDisk(); err != nil {
		t.Errorf("SaveToDisk() after releasing users error = %v", err)
	}
}

func TestConcurrentUsersAndSpill(t *testing.T) {
	p := newTestProxy(t, DataTypeColor, 32, 32, 32)
	b := completeChunk(t, p, 0)
	want := append([]float32(nil), b.Data()...)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			px := make([]float32, 4)
			for i := 0; i < 50; i++ {
				if err := b.MakeAvailable(true); err != nil {
					errs <- err
					return
				}
				x, y := (w*7+i)%32, (w*3+i*5)%32
				b.Read(px, x, y)
				off := (y*32 + x) * 4
				for c := 0; c < 4; c++ {
					if px[c] != want[off+c] {
						errs <- errors.New("reader observed changed data")
						b.RemoveUser()
						return
					}
				}
				if err := b.RemoveUser(); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			err := b.SaveToDisk()
			if err != nil && !errors.Is(err, ErrInUse) && !errors.Is(err, ErrNotAvailable) {
				errs <- err
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if b.Users() != 0 {
		t.Errorf("Users() = %d, want 0", b.Users())
	}
}

func TestCopyContentFrom(t *testing.T) {
	p := newTestProxy(t, DataTypeColor, 64, 64, 64)
	dst, err := NewTemporaryBuffer(p, image.Rect(0, 0, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	sentinel := []float32{-1, -2, -3, -4}
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			dst.Write(x, y, sentinel)
		}
	}

	src, err := NewTemporaryBuffer(p, image.Rect(15, 12, 25, 22))
	if err != nil {
		t.Fatal(err)
	}
	fillPattern(src)

	if err := dst.CopyContentFrom(src); err != nil {
		t.Fatalf("CopyContentFrom() error = %v", err)
	}

	overlap := image.Rect(15, 12, 20, 20)
	got := make([]float32, 4)
	want := make([]float32, 4)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			dst.Read(got, x, y)
			if image.Pt(x, y).In(overlap) {
				src.Read(want, x, y)
			} else {
				copy(want, sentinel)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("pixel (%d,%d) mismatch (-want +got):\n%s", x, y, diff)
			}
		}
	}
}

func TestCopyContentFromTypeMismatch(t *testing.T) {
	color := newTestProxy(t, DataTypeColor, 8, 8, 8)
	value := newTestProxy(t, DataTypeValue, 8, 8, 8)
	a, _ := NewTemporaryBuffer(color, image.Rect(0, 0, 8, 8))
	b, _ := NewTemporaryBuffer(value, image.Rect(0, 0, 8, 8))
	if err := a.CopyContentFrom(b); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("CopyContentFrom() error = %v, want ErrTypeMismatch", err)
	}
}

func TestNewRaster(t *testing.T) {
	r, err := NewRaster(DataTypeVector, image.Rect(-4, -4, 4, 4))
	if err != nil {
		t.Fatal(err)
	}
	if r.Proxy() != nil || !r.IsTemporary() || r.Channels() != 3 {
		t.Errorf("NewRaster: proxy %v, temporary %v, channels %d", r.Proxy(), r.IsTemporary(), r.Channels())
	}
	r.Write(-4, -4, []float32{1, 2, 3})
	got := make([]float32, 3)
	r.Read(got, -10, -10)
	if diff := cmp.Diff([]float32{1, 2, 3}, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewRaster(DataTypeColor, image.Rectangle{}); !errors.Is(err, ErrEmptyRect) {
		t.Errorf("NewRaster(empty) error = %v, want ErrEmptyRect", err)
	}
	if _, err := NewRaster(DataType(9), image.Rect(0, 0, 1, 1)); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("NewRaster(bad type) error = %v, want ErrTypeMismatch", err)
	}
}
