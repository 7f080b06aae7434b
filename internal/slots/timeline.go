package slots

import "bronivik/bronivik_schedule/internal/model"

// Position maps t onto [0, 1] across window: minutes since the window start
// divided by the window length. Values outside the window are clamped.
func Position(t model.Clock, window model.Interval) float64 {
	length := window.Minutes()
	if length <= 0 {
		return 0
	}

	p := float64(t-window.Start) / float64(length)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Span returns the start position and width of interval inside window.
func Span(iv model.Interval, window model.Interval) (offset, width float64) {
	offset = Position(iv.Start, window)
	return offset, Position(iv.End, window) - offset
}
