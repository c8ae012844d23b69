// Package quality derives per-rectangle H.264 quantization parameter
// and quality values, tracked against a tiled recent-motion map.
package quality

import (
	"github.com/krdpgfx/core/internal/rdpgfx"
)

// tileSize is the activity grid's tile edge in pixels.
const tileSize = 64

// boostAmount is added to every tile a damage rectangle intersects.
const boostAmount = 6

// Grid is a tiled, saturating 8-bit decay/boost map tracking recent
// damage density across the frame. It is mutated only by the
// submission worker and never observed elsewhere, so it carries no
// internal locking.
type Grid struct {
	size   rdpgfx.Size
	cols   int
	rows   int
	tiles  []uint8
}

// ResetIfSizeChanged (re)allocates the grid for size, zeroing all
// counters, if size differs from the grid's current size. It is a
// no-op otherwise, including on the very first call with a zero-value
// Grid compared against a zero Size.
func (g *Grid) ResetIfSizeChanged(size rdpgfx.Size) {
	if size == g.size && g.tiles != nil {
		return
	}
	g.size = size
	if size.Empty() {
		g.cols, g.rows = 0, 0
		g.tiles = nil
		return
	}
	g.cols = ceilDiv(size.Width, tileSize)
	g.rows = ceilDiv(size.Height, tileSize)
	g.tiles = make([]uint8, g.cols*g.rows)
}

// Decay applies a saturating -1 to every tile. Called once per emitted
// frame, before quality selection runs for that frame.
func (g *Grid) Decay() {
	for i, v := range g.tiles {
		if v > 0 {
			g.tiles[i] = v - 1
		}
	}
}

// Boost adds a saturating +6 to every tile intersected by any rect in
// rects. Called after quality selection, with the pre-override tracked
// damage list, so next frame's scores reflect this frame's actual
// motion.
func (g *Grid) Boost(rects []rdpgfx.Rect) {
	if g.tiles == nil {
		return
	}
	for _, r := range rects {
		g.boostRect(r)
	}
}

func (g *Grid) boostRect(r rdpgfx.Rect) {
	if r.Empty() {
		return
	}
	colStart := int(r.Left) / tileSize
	colEnd := (int(r.Right) - 1) / tileSize
	rowStart := int(r.Top) / tileSize
	rowEnd := (int(r.Bottom) - 1) / tileSize

	for row := rowStart; row <= rowEnd && row < g.rows; row++ {
		if row < 0 {
			continue
		}
		for col := colStart; col <= colEnd && col < g.cols; col++ {
			if col < 0 {
				continue
			}
			idx := row*g.cols + col
			v := int(g.tiles[idx]) + boostAmount
			if v > 255 {
				v = 255
			}
			g.tiles[idx] = uint8(v)
		}
	}
}

// Score returns the average counter value over every tile rect
// intersects, or 0 if the grid is empty (unsized, or rect touches no
// tile).
func (g *Grid) Score(r rdpgfx.Rect) int {
	if g.tiles == nil || r.Empty() {
		return 0
	}
	colStart := int(r.Left) / tileSize
	colEnd := (int(r.Right) - 1) / tileSize
	rowStart := int(r.Top) / tileSize
	rowEnd := (int(r.Bottom) - 1) / tileSize

	sum, count := 0, 0
	for row := rowStart; row <= rowEnd && row < g.rows; row++ {
		if row < 0 {
			continue
		}
		for col := colStart; col <= colEnd && col < g.cols; col++ {
			if col < 0 {
				continue
			}
			sum += int(g.tiles[row*g.cols+col])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
