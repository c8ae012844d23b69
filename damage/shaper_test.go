package damage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krdpgfx/core/internal/rdpgfx"
)

func TestShapeEmptySizeReturnsNil(t *testing.T) {
	out := Shape([]rdpgfx.Rect{{Left: 0, Top: 0, Right: 10, Bottom: 10}}, rdpgfx.Size{}, false)
	assert.Nil(t, out)
}

func TestShapeKeyFrameIsFullFrame(t *testing.T) {
	size := rdpgfx.Size{Width: 1920, Height: 1080}
	out := Shape([]rdpgfx.Rect{{Left: 0, Top: 0, Right: 10, Bottom: 10}}, size, true)
	require.Len(t, out, 1)
	assert.Equal(t, rdpgfx.Rect{Left: 0, Top: 0, Right: 1920, Bottom: 1080}, out[0])
}

func TestShapeEmptyDamageIsFullFrame(t *testing.T) {
	size := rdpgfx.Size{Width: 800, Height: 600}
	out := Shape(nil, size, false)
	require.Len(t, out, 1)
	assert.Equal(t, rdpgfx.Rect{Left: 0, Top: 0, Right: 800, Bottom: 600}, out[0])
}

func TestShapeClipsAndKeepsSmallDamage(t *testing.T) {
	size := rdpgfx.Size{Width: 100, Height: 100}
	region := []rdpgfx.Rect{{Left: 10, Top: 10, Right: 20, Bottom: 20}}
	out := Shape(region, size, false)
	require.Len(t, out, 1)
	assert.Equal(t, rdpgfx.Rect{Left: 10, Top: 10, Right: 20, Bottom: 20}, out[0])
}

func TestShapeOutOfBoundsClippedToFrame(t *testing.T) {
	size := rdpgfx.Size{Width: 50, Height: 50}
	region := []rdpgfx.Rect{{Left: 40, Top: 40, Right: 200, Bottom: 200}}
	out := Shape(region, size, false)
	require.Len(t, out, 1)
	assert.Equal(t, rdpgfx.Rect{Left: 40, Top: 40, Right: 50, Bottom: 50}, out[0])
}

func TestShapeAllOutsideFrameFallsBackToFullFrame(t *testing.T) {
	size := rdpgfx.Size{Width: 50, Height: 50}
	region := []rdpgfx.Rect{{Left: 100, Top: 100, Right: 200, Bottom: 200}}
	out := Shape(region, size, false)
	require.Len(t, out, 1)
	assert.Equal(t, rdpgfx.Rect{Left: 0, Top: 0, Right: 50, Bottom: 50}, out[0])
}

func TestShapeOverMaxRectCountFallsBackToFullFrame(t *testing.T) {
	size := rdpgfx.Size{Width: 1000, Height: 1000}
	region := make([]rdpgfx.Rect, 0, 200)
	for i := 0; i < 200; i++ {
		x := uint16(i % 1000)
		region = append(region, rdpgfx.Rect{Left: x, Top: 0, Right: x + 1, Bottom: 1})
	}
	out := Shape(region, size, false)
	require.Len(t, out, 1)
	assert.Equal(t, rdpgfx.Rect{Left: 0, Top: 0, Right: 1000, Bottom: 1000}, out[0])
}

// TestShapeCoalescesDenseSmallRects checks that 100 evenly distributed
// 2x2 rects on a 1920x1080 frame coalesce to <= 64 rects whose total
// union area is at least the sum of inputs.
func TestShapeCoalescesDenseSmallRects(t *testing.T) {
	size := rdpgfx.Size{Width: 1920, Height: 1080}
	region := make([]rdpgfx.Rect, 0, 100)
	inputArea := 0
	for i := 0; i < 100; i++ {
		x := uint16((i % 20) * 90)
		y := uint16((i / 20) * 90)
		r := rdpgfx.Rect{Left: x, Top: y, Right: x + 2, Bottom: y + 2}
		region = append(region, r)
		inputArea += r.Area()
	}

	out := Shape(region, size, false)
	assert.LessOrEqual(t, len(out), MaxCoalescedRects)

	totalArea := 0
	for _, r := range out {
		totalArea += r.Area()
	}
	assert.GreaterOrEqual(t, totalArea, inputArea)
}

func TestShapeAllOutputRectsAreWellFormed(t *testing.T) {
	sizes := []rdpgfx.Size{{Width: 1920, Height: 1080}, {Width: 1, Height: 1}, {Width: 65535, Height: 65535}}
	for _, size := range sizes {
		region := []rdpgfx.Rect{
			{Left: 0, Top: 0, Right: 1, Bottom: 1},
			{Left: 5, Top: 5, Right: 5, Bottom: 5}, // degenerate, dropped by clipAll
		}
		out := Shape(region, size, false)
		require.NotEmpty(t, out)
		for _, r := range out {
			assert.Less(t, r.Left, r.Right)
			assert.Less(t, r.Top, r.Bottom)
			assert.LessOrEqual(t, int(r.Right), rdpgfx.MaxRdpCoordinate)
			assert.LessOrEqual(t, int(r.Bottom), rdpgfx.MaxRdpCoordinate)
		}
	}
}
