package strategy

import "github.com/shopspring/decimal"

// DefaultWindowSize is the capacity of each trend queue.
const DefaultWindowSize = 20

// deque is a bounded newest-first queue. Pushing beyond capacity evicts the
// oldest element.
type deque struct {
	items []float64
	cap   int
}

func newDeque(capacity int) deque {
	return deque{items: make([]float64, 0, capacity), cap: capacity}
}

func (d *deque) pushFront(v float64) {
	if len(d.items) < d.cap {
		d.items = append(d.items, 0)
	}
	copy(d.items[1:], d.items[:len(d.items)-1])
	d.items[0] = v
}

func (d *deque) mean() float64 {
	if len(d.items) == 0 {
		return 0
	}
	var sum float64
	for _, v := range d.items {
		sum += v
	}
	return sum / float64(len(d.items))
}

func (d *deque) clear() {
	d.items = d.items[:0]
}

// TrendWindow keeps the trailing prices, trade amounts and order-book
// amounts of the current chunk plus the chunk-lifetime directional sums.
type TrendWindow struct {
	prices     deque
	amounts    deque
	bidAmounts deque
	askAmounts deque

	hasPrev   bool
	prevPrice decimal.Decimal
	sumUp     float64
	sumDown   float64
}

// NewTrendWindow creates a window whose queues hold at most size entries.
// A non-positive size selects DefaultWindowSize.
func NewTrendWindow(size int) *TrendWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &TrendWindow{
		prices:     newDeque(size),
		amounts:    newDeque(size),
		bidAmounts: newDeque(size),
		askAmounts: newDeque(size),
	}
}

func (w *TrendWindow) AddPrice(p float64)     { w.prices.pushFront(p) }
func (w *TrendWindow) AddAmount(a float64)    { w.amounts.pushFront(a) }
func (w *TrendWindow) AddBidAmount(a float64) { w.bidAmounts.pushFront(a) }
func (w *TrendWindow) AddAskAmount(a float64) { w.askAmounts.pushFront(a) }

// Observe updates the directional sums with price relative to the previous
// observed price.
func (w *TrendWindow) Observe(price decimal.Decimal) {
	if w.hasPrev {
		f, _ := price.Float64()
		switch price.Cmp(w.prevPrice) {
		case 1:
			w.sumUp += f
		case -1:
			w.sumDown += f
		}
	}
	w.hasPrev = true
	w.prevPrice = price
}

// ShortMovingAverage is the mean of the price queue.
func (w *TrendWindow) ShortMovingAverage() float64 { return w.prices.mean() }

// LongMovingAverage is computed over the same queue as the short average.
// There is no separate long window yet.
func (w *TrendWindow) LongMovingAverage() float64 { return w.prices.mean() }

func (w *TrendWindow) AvgAmount() float64    { return w.amounts.mean() }
func (w *TrendWindow) AvgBidAmount() float64 { return w.bidAmounts.mean() }
func (w *TrendWindow) AvgAskAmount() float64 { return w.askAmounts.mean() }
func (w *TrendWindow) SumUp() float64        { return w.sumUp }
func (w *TrendWindow) SumDown() float64      { return w.sumDown }

// Len is the number of prices currently held.
func (w *TrendWindow) Len() int { return len(w.prices.items) }

// Prices returns a newest-first copy of the price queue.
func (w *TrendWindow) Prices() []float64 {
	out := make([]float64, len(w.prices.items))
	copy(out, w.prices.items)
	return out
}

// Reset clears the queues and the directional sums.
func (w *TrendWindow) Reset() {
	w.prices.clear()
	w.amounts.clear()
	w.bidAmounts.clear()
	w.askAmounts.clear()
	w.hasPrev = false
	w.prevPrice = decimal.Zero
	w.sumUp = 0
	w.sumDown = 0
}
