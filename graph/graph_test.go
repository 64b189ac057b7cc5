package graph

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrjoshuak/go-compositor/filter"
	"github.com/mrjoshuak/go-compositor/memory"
	"github.com/mrjoshuak/go-compositor/operation"
)

func newImage(t *testing.T, w, h int) *operation.Image {
	t.Helper()
	r, err := memory.NewRaster(memory.DataTypeColor, image.Rect(0, 0, w, h))
	require.NoError(t, err)
	return operation.NewImage(r)
}

func blurData() operation.BlurData {
	return operation.BlurData{Filter: filter.Gauss, SizeX: 2, SizeY: 2}
}

func TestConnect(t *testing.T) {
	g := New()
	mix := operation.NewMix(operation.MixBlend)
	fac := operation.NewSetValue(0.5)
	color := operation.NewSetColor(1, 0, 0, 1)

	require.NoError(t, g.Connect(fac, mix, operation.MixInputFactor))
	require.NoError(t, g.Connect(color, mix, operation.MixInputColor1))
	assert.Len(t, g.Nodes(), 3)
	assert.Len(t, g.Links(), 2)
	assert.Same(t, color, mix.Input(operation.MixInputColor1))

	err := g.Connect(fac, mix, operation.MixInputColor2)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Nil(t, mix.Input(operation.MixInputColor2))

	err = g.Connect(color, mix, 7)
	assert.ErrorIs(t, err, operation.ErrInputIndex)

	other := operation.NewSetColor(0, 1, 0, 1)
	require.NoError(t, g.Connect(other, mix, operation.MixInputColor1))
	assert.Len(t, g.Links(), 2, "link into the same socket is replaced")
	assert.Same(t, other, mix.Input(operation.MixInputColor1))
}

func TestValidate(t *testing.T) {
	t.Run("no output", func(t *testing.T) {
		assert.ErrorIs(t, New().Validate(), ErrNoOutput)
	})

	t.Run("unconnected", func(t *testing.T) {
		g := New()
		mix := operation.NewMix(operation.MixAdd)
		require.NoError(t, g.Connect(operation.NewSetValue(1), mix, operation.MixInputFactor))
		g.SetOutput(mix)
		assert.ErrorIs(t, g.Validate(), ErrUnconnected)
	})

	t.Run("cycle", func(t *testing.T) {
		g := New()
		a := operation.NewTranslate(1, 0)
		b := operation.NewTranslate(0, 1)
		require.NoError(t, g.Connect(a, b, 0))
		require.NoError(t, g.Connect(b, a, 0))
		g.SetOutput(b)
		assert.ErrorIs(t, g.Validate(), ErrCycle)
	})

	t.Run("wired outside the graph", func(t *testing.T) {
		g := New()
		conv := operation.NewConvertValueToColor()
		require.NoError(t, conv.SetInput(0, operation.NewSetColor(0, 0, 0, 0)))
		g.SetOutput(conv)
		assert.ErrorIs(t, g.Validate(), ErrTypeMismatch)
	})

	t.Run("valid", func(t *testing.T) {
		g := New()
		conv := operation.NewConvertValueToColor()
		require.NoError(t, g.Connect(operation.NewSetValue(1), conv, 0))
		g.SetOutput(conv)
		assert.NoError(t, g.Validate())
	})
}

func TestCompileSimple(t *testing.T) {
	g := New()
	img := newImage(t, 40, 30)
	mix := operation.NewMix(operation.MixMultiply)
	require.NoError(t, g.Connect(operation.NewSetValue(1), mix, operation.MixInputFactor))
	require.NoError(t, g.Connect(img, mix, operation.MixInputColor1))
	require.NoError(t, g.Connect(operation.NewSetColor(0.5, 0.5, 0.5, 1), mix, operation.MixInputColor2))
	g.SetOutput(mix)

	plan, err := g.Compile(CompileOptions{ChunkSize: 16})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	assert.Same(t, plan.Output, plan.Groups[0])
	assert.Empty(t, plan.Output.Readers)
	assert.Empty(t, plan.Output.Dependencies)
	assert.Same(t, mix, plan.Output.Root.Input(0))

	p := plan.OutputProxy()
	assert.Equal(t, image.Rect(0, 0, 40, 30), p.Bounds())
	assert.Equal(t, memory.DataTypeColor, p.DataType())
	assert.Equal(t, 16, p.ChunkSize())
	assert.Equal(t, 6, p.NumChunks())
	assert.Len(t, plan.Operations, 5)

	_, err = g.Compile(CompileOptions{})
	assert.ErrorIs(t, err, ErrCompiled)
	assert.ErrorIs(t, g.Connect(img, mix, operation.MixInputColor2), ErrCompiled)
}

func TestCompileBlurChain(t *testing.T) {
	g := New()
	img := newImage(t, 64, 48)
	bx := operation.NewGaussianXBlur(blurData())
	by := operation.NewGaussianYBlur(blurData())
	require.NoError(t, g.Connect(img, bx, 0))
	require.NoError(t, g.Connect(bx, by, 0))
	g.SetOutput(by)

	plan, err := g.Compile(CompileOptions{ChunkSize: 32})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 3)

	// Upstream first.
	assert.Same(t, img, plan.Groups[0].Root.Input(0))
	assert.Same(t, bx, plan.Groups[1].Root.Input(0))
	assert.Same(t, by, plan.Groups[2].Root.Input(0))
	assert.Same(t, plan.Output, plan.Groups[2])

	assert.Empty(t, plan.Groups[0].Dependencies)
	assert.Equal(t, []int{0}, plan.Groups[1].Dependencies)
	assert.Equal(t, []int{1}, plan.Groups[2].Dependencies)
	for i, gp := range plan.Groups {
		assert.Equal(t, i, gp.Index)
	}

	// The blurs now read buffered inputs.
	rbx, ok := bx.Input(0).(*operation.ReadBuffer)
	require.True(t, ok)
	assert.Same(t, plan.Groups[0].Proxy(), rbx.Proxy())
	assert.Equal(t, []*operation.ReadBuffer{rbx}, plan.Groups[1].Readers)
	assert.Equal(t, 0, rbx.Slot())
	w, h := rbx.Resolution()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)

	assert.Equal(t, 1, plan.Groups[0].Proxy().Consumers())
	assert.Equal(t, 1, plan.Groups[1].Proxy().Consumers())
	assert.Equal(t, 0, plan.OutputProxy().Consumers())
}

func TestCompileSharedBoundary(t *testing.T) {
	g := New()
	img := newImage(t, 32, 32)
	bx := operation.NewGaussianXBlur(blurData())
	by := operation.NewGaussianYBlur(blurData())
	mix := operation.NewMix(operation.MixDifference)
	require.NoError(t, g.Connect(img, bx, 0))
	require.NoError(t, g.Connect(bx, by, 0))
	require.NoError(t, g.Connect(operation.NewSetValue(1), mix, operation.MixInputFactor))
	require.NoError(t, g.Connect(by, mix, operation.MixInputColor1))
	require.NoError(t, g.Connect(img, mix, operation.MixInputColor2))
	g.SetOutput(mix)

	plan, err := g.Compile(CompileOptions{ChunkSize: 8})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 3)

	out := plan.Output
	assert.Same(t, plan.Groups[2], out)
	require.Len(t, out.Readers, 2)
	assert.Equal(t, []int{0, 1}, out.Dependencies)
	for slot, rb := range out.Readers {
		assert.Equal(t, slot, rb.Slot())
	}

	imgProxy := plan.Groups[0].Proxy()
	assert.Equal(t, 2, imgProxy.Consumers(), "read by the blur group and the mix group")

	// Each consumer has its own reader.
	rbMix, ok := mix.Input(operation.MixInputColor2).(*operation.ReadBuffer)
	require.True(t, ok)
	rbBlur, ok := bx.Input(0).(*operation.ReadBuffer)
	require.True(t, ok)
	assert.NotSame(t, rbMix, rbBlur)
	assert.Same(t, rbMix.Proxy(), rbBlur.Proxy())
}

func TestCompileNeedsResolution(t *testing.T) {
	g := New()
	g.SetOutput(operation.NewSetColor(1, 1, 1, 1))
	_, err := g.Compile(CompileOptions{})
	assert.ErrorIs(t, err, memory.ErrInvalidProxy)

	g = New()
	g.SetOutput(operation.NewSetColor(1, 1, 1, 1))
	plan, err := g.Compile(CompileOptions{Width: 20, Height: 10})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), plan.OutputProxy().Bounds())
}
