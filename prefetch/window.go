package prefetch

// Window tracks which rows are visible or about to be, and reports rows that
// enter or leave that set as the list scrolls. It stands in for a table
// view's prefetch callbacks: entered rows should be fetched, rows that leave
// should have their fetch cancelled.
type Window struct {
	total     int
	lookahead int

	offset  int
	visible int
	lo, hi  int // current window, half-open
	down    bool
	moved   bool
}

func NewWindow(total, lookahead int) *Window {
	if lookahead < 0 {
		lookahead = 0
	}
	return &Window{total: total, lookahead: lookahead, down: true}
}

// Move sets the visible range to [offset, offset+visible) and returns the
// rows that entered and left the window, each in ascending order. The
// lookahead extends the window in the scroll direction.
func (w *Window) Move(offset, visible int) (enter, leave []int) {
	offset = max(0, min(offset, w.total))
	visible = max(0, visible)

	if w.moved && offset != w.offset {
		w.down = offset > w.offset
	}

	lo, hi := offset, offset+visible
	if w.down {
		hi += w.lookahead
	} else {
		lo -= w.lookahead
	}
	lo = max(0, lo)
	hi = min(w.total, hi)
	if hi < lo {
		hi = lo
	}

	if !w.moved {
		w.lo, w.hi = 0, 0
	}
	for i := lo; i < hi; i++ {
		if i < w.lo || i >= w.hi {
			enter = append(enter, i)
		}
	}
	for i := w.lo; i < w.hi; i++ {
		if i < lo || i >= hi {
			leave = append(leave, i)
		}
	}

	w.offset, w.visible = offset, visible
	w.lo, w.hi = lo, hi
	w.moved = true
	return enter, leave
}

// Visible reports whether index is on screen (not merely prefetched).
func (w *Window) Visible(index int) bool {
	return w.moved && index >= w.offset && index < min(w.total, w.offset+w.visible)
}

// Contains reports whether index is in the window, visible or prefetched.
func (w *Window) Contains(index int) bool {
	return index >= w.lo && index < w.hi
}

// Bounds returns the current window as a half-open range.
func (w *Window) Bounds() (lo, hi int) {
	return w.lo, w.hi
}
