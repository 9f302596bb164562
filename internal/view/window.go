package view

import "sync"

const (
	// DefaultVirtualizeThreshold is the item count below which the whole list
	// renders without windowing.
	DefaultVirtualizeThreshold = 100
	// DefaultEstimatedHeight seeds the per-item height table until a real
	// measurement arrives.
	DefaultEstimatedHeight = 96
	// DefaultOverscan is the number of extra items rendered on each side of
	// the visible range.
	DefaultOverscan = 5
)

// Window is the render slice a virtualized list shows.
type Window struct {
	// Virtual is false when the item count is under the threshold; the caller
	// renders everything and ignores the offsets.
	Virtual bool
	// Start and End bound the items to render, half-open, overscan included.
	Start, End int
	// OffsetTop is the absolute pixel offset of item Start.
	OffsetTop int
	// TotalHeight is the full list height for scrollbar sizing.
	TotalHeight int
}

// WindowerOptions configures a Windower. Zero values pick the defaults above.
type WindowerOptions struct {
	Threshold       int
	EstimatedHeight int
	Overscan        int
}

// Windower computes visible item windows from estimated-then-measured item
// heights. Collapsed groups measure far below the estimate, so measurement
// correction is what keeps scroll offsets from drifting.
type Windower struct {
	threshold int
	estimate  int
	overscan  int

	mu      sync.Mutex
	heights []int // -1 until measured
}

// NewWindower creates a windower for an empty list.
func NewWindower(opts WindowerOptions) *Windower {
	w := &Windower{
		threshold: opts.Threshold,
		estimate:  opts.EstimatedHeight,
		overscan:  opts.Overscan,
	}
	if w.threshold <= 0 {
		w.threshold = DefaultVirtualizeThreshold
	}
	if w.estimate <= 0 {
		w.estimate = DefaultEstimatedHeight
	}
	if w.overscan < 0 {
		w.overscan = DefaultOverscan
	}
	return w
}

// SetItemCount resizes the height table, keeping measurements for surviving
// indexes.
func (w *Windower) SetItemCount(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n < 0 {
		n = 0
	}
	switch {
	case n < len(w.heights):
		w.heights = w.heights[:n]
	case n > len(w.heights):
		for len(w.heights) < n {
			w.heights = append(w.heights, -1)
		}
	}
}

// MeasureItem records an item's real height once the surface has laid it out.
// Out-of-range indexes are ignored.
func (w *Windower) MeasureItem(index, height int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.heights) || height <= 0 {
		return
	}
	w.heights[index] = height
}

func (w *Windower) heightAt(i int) int {
	if h := w.heights[i]; h > 0 {
		return h
	}
	return w.estimate
}

// Compute returns the window for the given scroll position and viewport
// height.
func (w *Windower) Compute(scrollTop, viewport int) Window {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.heights)
	total := 0
	for i := 0; i < n; i++ {
		total += w.heightAt(i)
	}

	if n < w.threshold {
		return Window{Virtual: false, Start: 0, End: n, TotalHeight: total}
	}

	if scrollTop < 0 {
		scrollTop = 0
	}
	if viewport < 0 {
		viewport = 0
	}

	start, offset := 0, 0
	for start < n && offset+w.heightAt(start) <= scrollTop {
		offset += w.heightAt(start)
		start++
	}
	end, covered := start, offset
	for end < n && covered < scrollTop+viewport {
		covered += w.heightAt(end)
		end++
	}

	for i := 0; i < w.overscan && start > 0; i++ {
		start--
		offset -= w.heightAt(start)
	}
	end += w.overscan
	if end > n {
		end = n
	}

	return Window{Virtual: true, Start: start, End: end, OffsetTop: offset, TotalHeight: total}
}
