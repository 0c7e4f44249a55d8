package strategy

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

func classifyAll(prices []float64) ([]domain.Tick, []string) {
	c := NewTickClassifier()
	ticks := make([]domain.Tick, 0, len(prices))
	labels := make([]string, 0, len(prices))
	for _, p := range prices {
		tick, label := c.Classify(decimal.NewFromFloat(p))
		ticks = append(ticks, tick)
		labels = append(labels, label)
	}
	return ticks, labels
}

func TestTickClassifier_Scenario(t *testing.T) {
	ticks, labels := classifyAll([]float64{100, 101, 102, 101, 101})

	assert.Equal(t, []domain.Tick{domain.TickUp, domain.TickUp, domain.TickUp, domain.TickDown, domain.TickZero}, ticks)
	assert.Equal(t, []string{"UP1", "UP2", "UP3", "DOWN1", "DOWN1"}, labels)
}

func TestTickClassifier_ZeroKeepsDirection(t *testing.T) {
	// DOWN, ZERO, DOWN continues the streak; UP after ZERO flips it.
	_, labels := classifyAll([]float64{10, 9, 9, 8, 8, 8, 9})
	assert.Equal(t, []string{"UP1", "DOWN1", "DOWN1", "DOWN2", "DOWN2", "DOWN2", "UP1"}, labels)
}

func TestTickClassifier_FirstTradeThenZero(t *testing.T) {
	_, labels := classifyAll([]float64{50, 50, 51})
	// The first trade counts as UP1, so an UP after a ZERO extends it.
	assert.Equal(t, []string{"UP1", "UP1", "UP2"}, labels)
}

func TestTickClassifier_Reset(t *testing.T) {
	c := NewTickClassifier()
	c.Classify(decimal.NewFromInt(5))
	c.Classify(decimal.NewFromInt(4))
	c.Reset()

	tick, label := c.Classify(decimal.NewFromInt(3))
	assert.Equal(t, domain.TickUp, tick)
	assert.Equal(t, "UP1", label)
}

func TestTickClassifier_LabelProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 50; run++ {
		c := NewTickClassifier()
		prevDir := domain.Tick("")
		prevN := 0
		price := int64(100)
		for i := 0; i < 200; i++ {
			price += int64(rng.Intn(3) - 1)
			tick, label := c.Classify(decimal.NewFromInt(price))

			dir := c.Direction()
			assert.True(t, strings.HasPrefix(label, string(dir)), "label %s dir %s", label, dir)
			n, err := strconv.Atoi(strings.TrimPrefix(label, string(dir)))
			assert.NoError(t, err)

			switch {
			case i == 0:
				assert.Equal(t, 1, n)
			case tick == domain.TickZero:
				assert.Equal(t, prevN, n)
				assert.Equal(t, prevDir, dir)
			case dir != prevDir:
				assert.Equal(t, 1, n, "flip must reset to 1")
			default:
				assert.Equal(t, prevN+1, n)
			}
			prevDir, prevN = dir, n
		}
	}
}
