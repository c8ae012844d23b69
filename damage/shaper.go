// Package damage turns an arbitrary damage region into a bounded,
// clipped, coalesced list of RDPEGFX rectangles.
package damage

import "github.com/krdpgfx/core/internal/rdpgfx"

// MaxCoalescedRects is the target rectangle count coalescing tries to
// reach before giving up.
const MaxCoalescedRects = 64

// MaxRectCount is the hard ceiling; exceeding it anywhere in the
// pipeline forces a full-frame rectangle instead.
const MaxRectCount = 128

// Shape takes an arbitrary (possibly empty, possibly overlapping or
// out-of-bounds) damage region, a frame size, and a key-frame flag,
// and returns an ordered, non-empty list of
// RDPEGFX-legal rectangles.
//
// The returned slice is never empty when size is non-empty: invalid,
// degenerate or oversized input is silently repaired to a single
// full-frame rectangle rather than surfaced as an error.
func Shape(region []rdpgfx.Rect, size rdpgfx.Size, isKeyFrame bool) []rdpgfx.Rect {
	if size.Empty() {
		return nil
	}

	full := fullFrameRect(size)

	if isKeyFrame || len(region) == 0 {
		return []rdpgfx.Rect{full}
	}

	clipped := clipAll(region, full)
	if len(clipped) == 0 || len(clipped) > MaxRectCount {
		return []rdpgfx.Rect{full}
	}

	clipped = coalesce(clipped)
	if len(clipped) > MaxRectCount {
		return []rdpgfx.Rect{full}
	}

	out := make([]rdpgfx.Rect, 0, len(clipped))
	for _, r := range clipped {
		bounded := r.Intersect(full)
		if bounded.Empty() {
			continue
		}
		out = append(out, widen(bounded))
	}

	if len(out) == 0 {
		return []rdpgfx.Rect{full}
	}

	return out
}

func fullFrameRect(size rdpgfx.Size) rdpgfx.Rect {
	return rdpgfx.Rect{
		Left:   0,
		Top:    0,
		Right:  clampCoord(size.Width),
		Bottom: clampCoord(size.Height),
	}
}

func clampCoord(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > rdpgfx.MaxRdpCoordinate {
		return rdpgfx.MaxRdpCoordinate
	}
	return uint16(v)
}

// clipAll clips every input rectangle to bounds, dropping any that
// become empty.
func clipAll(region []rdpgfx.Rect, bounds rdpgfx.Rect) []rdpgfx.Rect {
	out := make([]rdpgfx.Rect, 0, len(region))
	for _, r := range region {
		c := r.Intersect(bounds)
		if c.Empty() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// coalesce repeatedly merges the first pair whose union area is within
// 1.5x the sum of their individual areas, first-fit left-to-right, until
// the list is at or below MaxCoalescedRects or a full pass finds nothing
// to merge.
func coalesce(rects []rdpgfx.Rect) []rdpgfx.Rect {
	for len(rects) > MaxCoalescedRects {
		merged := false
		for i := 0; i < len(rects)-1 && !merged; i++ {
			for j := i + 1; j < len(rects); j++ {
				a, b := rects[i], rects[j]
				u := a.Union(b)
				if u.Area() <= (a.Area()+b.Area())*3/2 {
					rects[i] = u
					rects = append(rects[:j], rects[j+1:]...)
					merged = true
					break
				}
			}
		}
		if !merged {
			break
		}
	}
	return rects
}

// widen expands a side that clipping collapsed to zero width/height to a
// minimum 1-pixel span, growing the right/bottom edge rather than the
// left/top edge, bounded by MaxRdpCoordinate — matching the krdp
// original's toRdpRect widening direction.
func widen(r rdpgfx.Rect) rdpgfx.Rect {
	if r.Right <= r.Left {
		r.Right = minU16(r.Left+1, rdpgfx.MaxRdpCoordinate)
	}
	if r.Bottom <= r.Top {
		r.Bottom = minU16(r.Top+1, rdpgfx.MaxRdpCoordinate)
	}
	return r
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
