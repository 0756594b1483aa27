package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripcast/internal/core"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	names := []string{}
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"rainbow", "solid"}, names)

	_, _, err := r.New("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownPattern)
}

func TestDescriptorResolve(t *testing.T) {
	d := Descriptor{Params: []ParamSpec{
		{Name: "speed", Default: 1, Min: 0, Max: 5},
		{Name: "free", Default: 3},
	}}
	got := d.Resolve(Params{"speed": 9, "extra": 2})
	assert.Equal(t, Params{"speed": 5, "free": 3, "extra": 2}, got)
}

func TestSolidPattern(t *testing.T) {
	r := NewRegistry()
	p, params, err := r.New("solid", Params{"r": 10, "g": 20, "b": 30, "brightness": 99})
	require.NoError(t, err)

	vp := core.NewViewport(2, 2)
	require.NoError(t, p.Initialize(vp, params))
	p.Update(time.Millisecond, time.Millisecond)
	p.Render(vp)
	assert.Equal(t, core.NewColor(10, 20, 30, core.MaxBrightness), vp.Get(1, 1))
	p.Cleanup()
}

func TestRainbowMovesWithTime(t *testing.T) {
	r := NewRegistry()
	p, params, err := r.New("rainbow", Params{"speed": 120, "scale": 0})
	require.NoError(t, err)

	vp := core.NewViewport(3, 1)
	require.NoError(t, p.Initialize(vp, params))
	p.Render(vp)
	assert.Equal(t, core.Red, vp.Get(0, 0))

	p.Update(time.Second, time.Second)
	p.Render(vp)
	assert.Equal(t, core.Green, vp.Get(2, 0))
}
