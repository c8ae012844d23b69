package quality

import "github.com/krdpgfx/core/internal/rdpgfx"

// Bounds of the selector's output ranges.
const (
	MinQP      = 10
	MaxQP      = 40
	MinQuality = 70
	MaxQuality = 100
)

// RefinementQP and RefinementQuality are the fixed values used for a
// progressive-refinement frame, representing the highest-fidelity pass.
const (
	RefinementQP      = 16
	RefinementQuality = 100
)

// DefaultQP and DefaultQuality are used for key frames and for any rect
// on an empty-size frame.
const (
	DefaultQP      = 22
	DefaultQuality = 100
)

// Input bundles everything the selector needs for one rectangle beyond
// the rectangle and frame size themselves.
type Input struct {
	IsKeyFrame       bool
	IsRefinementFrame bool
	ActivityScore    int
	CongestionQPBias int
}

// Result is the selector's QP/quality output for a single rectangle.
type Result struct {
	QP      int
	Quality int
}

// Select derives {qp, quality} for one rectangle given its coverage of
// the frame, recent activity at that location, and current congestion
// bias.
func Select(rect rdpgfx.Rect, size rdpgfx.Size, in Input) Result {
	if in.IsKeyFrame || size.Empty() {
		return Result{QP: DefaultQP, Quality: DefaultQuality}
	}

	if in.IsRefinementFrame {
		return Result{QP: RefinementQP, Quality: RefinementQuality}
	}

	frameArea := size.Width * size.Height
	coverage := 0.0
	if frameArea > 0 {
		coverage = float64(rect.Area()) / float64(frameArea)
	}

	var qp, quality int
	switch {
	case coverage <= 0.03:
		qp, quality = 18, 100
	case coverage <= 0.20:
		qp, quality = 21, 92
	default:
		qp, quality = 22, 90
	}

	if in.ActivityScore <= 2 && coverage <= 0.20 {
		qp -= 3
		quality += 8
	}

	if in.ActivityScore >= 8 {
		qp += 3
		quality -= 8
		if in.ActivityScore >= 16 {
			qp += 2
			quality -= 6
		}
	}

	appliedBias := in.CongestionQPBias
	if coverage <= 0.03 {
		appliedBias /= 2
	}
	qp += appliedBias
	quality -= appliedBias * 2

	return Result{QP: clamp(qp, MinQP, MaxQP), Quality: clamp(quality, MinQuality, MaxQuality)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
