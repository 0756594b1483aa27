package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewportReadWrite(t *testing.T) {
	for _, dims := range [][2]int{{1, 1}, {2, 1}, {7, 3}, {16, 16}} {
		w, h := dims[0], dims[1]
		v := NewViewport(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v.Set(x, y, ClampedRGB(x*10, y*10, x+y))
			}
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				require.Equal(t, ClampedRGB(x*10, y*10, x+y), v.Get(x, y), "pixel %d,%d", x, y)
			}
		}
	}
}

func TestViewportOutOfBounds(t *testing.T) {
	v := NewViewport(3, 2)
	v.Fill(Red)

	for _, p := range []Point{{-1, 0}, {0, -1}, {3, 0}, {0, 2}, {100, 100}} {
		assert.Equal(t, Black, v.At(p), "read %v", p)
		assert.NotPanics(t, func() { v.Set(p.X, p.Y, Blue) })
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, Red, v.Get(x, y))
		}
	}
}

func TestViewportClearAndSnapshot(t *testing.T) {
	v := NewViewport(2, 1)
	v.Set(0, 0, Red)
	v.Set(1, 0, Green)

	f := v.Snapshot()
	v.Clear()

	assert.Equal(t, Black, v.Get(0, 0))
	assert.Equal(t, Red, f.Get(0, 0))
	assert.Equal(t, Green, f.Get(1, 0))
	assert.Equal(t, []byte{0xFF, 0, 0, 0, 0xFF, 0}, f.RGB())
}

func TestNewFramePadsWithBlack(t *testing.T) {
	f := NewFrame(2, 2, []Color{Red})
	assert.Equal(t, Red, f.Get(0, 0))
	assert.Equal(t, Black, f.Get(1, 1))
	assert.Len(t, f.RGB(), 12)
}
