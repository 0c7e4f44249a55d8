package strategy

import (
	"strconv"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/shopspring/decimal"
)

// TickClassifier labels each trade UP, DOWN or ZERO against the previous
// trade and tracks the current directional streak. Each session owns its own
// classifier; it is not safe for concurrent use.
type TickClassifier struct {
	seen      bool
	prevPrice decimal.Decimal
	prevTick  domain.Tick
	direction domain.Tick // last non-zero direction
	streak    int
}

// NewTickClassifier returns a classifier that has seen no trades.
func NewTickClassifier() *TickClassifier {
	return &TickClassifier{}
}

// Classify records price and returns its movement class and streak label.
//
// ZERO ticks leave the streak untouched, so a move after one or more ZERO
// ticks is compared against the last non-zero direction.
func (c *TickClassifier) Classify(price decimal.Decimal) (domain.Tick, string) {
	if !c.seen {
		c.seen = true
		c.prevPrice = price
		c.prevTick = domain.TickUp
		c.direction = domain.TickUp
		c.streak = 1
		return domain.TickUp, c.Label()
	}

	var tick domain.Tick
	switch price.Cmp(c.prevPrice) {
	case -1:
		tick = domain.TickDown
	case 1:
		tick = domain.TickUp
	default:
		tick = domain.TickZero
	}

	if tick != domain.TickZero {
		last := c.prevTick
		if last == domain.TickZero {
			last = c.direction
		}
		if last == tick {
			c.streak++
		} else {
			c.streak = 1
			c.direction = tick
		}
	}

	c.prevPrice = price
	c.prevTick = tick
	return tick, c.Label()
}

// Label is the current streak label, e.g. "DOWN3".
func (c *TickClassifier) Label() string {
	if !c.seen {
		return ""
	}
	return string(c.direction) + strconv.Itoa(c.streak)
}

// Direction returns the most recent non-zero direction.
func (c *TickClassifier) Direction() domain.Tick {
	return c.direction
}

// Reset forgets all history.
func (c *TickClassifier) Reset() {
	*c = TickClassifier{}
}

// StreakLabel formats a direction and count the way Classify does.
func StreakLabel(direction domain.Tick, n int) string {
	return string(direction) + strconv.Itoa(n)
}
