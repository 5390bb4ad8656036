package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCostTrackerIncreaseRealizesNothing(t *testing.T) {
	c := NewCostTracker(d("1"))

	assert.True(t, c.ApplyFill(2, d("100")).IsZero())
	assert.True(t, c.ApplyFill(2, d("110")).IsZero())

	assert.Equal(t, int64(4), c.Position())
	assert.True(t, c.AvgCost().Equal(d("105")), "avg cost %s", c.AvgCost())
}

func TestCostTrackerReduceRealizesAgainstAvgCost(t *testing.T) {
	c := NewCostTracker(d("1"))
	c.ApplyFill(4, d("100"))

	profit := c.ApplyFill(-3, d("110"))
	assert.True(t, profit.Equal(d("30")), "profit %s", profit)
	assert.Equal(t, int64(1), c.Position())
	assert.True(t, c.AvgCost().Equal(d("100")), "cost basis survives a partial close")
}

func TestCostTrackerShortSide(t *testing.T) {
	c := NewCostTracker(d("1"))
	c.ApplyFill(-2, d("100"))

	profit := c.ApplyFill(2, d("90"))
	assert.True(t, profit.Equal(d("20")), "short covered 10 points lower, profit %s", profit)
	assert.Equal(t, int64(0), c.Position())
	assert.True(t, c.AvgCost().IsZero())
}

func TestCostTrackerFlipThroughZero(t *testing.T) {
	c := NewCostTracker(d("1"))
	c.ApplyFill(2, d("100"))

	// Sell 5: closes 2 long at +10 each, opens 3 short at 110.
	profit := c.ApplyFill(-5, d("110"))
	assert.True(t, profit.Equal(d("20")), "profit %s", profit)
	assert.Equal(t, int64(-3), c.Position())
	assert.True(t, c.AvgCost().Equal(d("110")))
}

func TestCostTrackerLeverageScalesProfit(t *testing.T) {
	c := NewCostTracker(d("50"))
	c.ApplyFill(1, d("2000"))

	profit := c.ApplyFill(-1, d("2001.25"))
	assert.True(t, profit.Equal(d("62.5")), "1.25 points x 50 per point, got %s", profit)
}
