// Package gateway holds pieces shared by broker gateway implementations.
package gateway

import (
	"sync"

	"github.com/shopspring/decimal"
)

// CostTracker maintains a signed position and its average cost basis, and
// attributes realized profit to each fill. Venues that report realized
// profit per execution don't need it; the sim gateway and any venue that
// only reports raw fills do.
type CostTracker struct {
	mu       sync.Mutex
	leverage decimal.Decimal
	position int64
	avgCost  decimal.Decimal
}

// NewCostTracker returns a tracker starting flat. Leverage is the currency
// value of a one-point move per contract.
func NewCostTracker(leverage decimal.Decimal) *CostTracker {
	return &CostTracker{leverage: leverage}
}

// ApplyFill folds a signed fill quantity at the given price into the
// position and returns the realized profit it contributed. Increasing a
// position realizes nothing and reprices the cost basis; reducing realizes
// closed x leverage x (price - avg cost) signed by the side being closed;
// a fill that flips through zero opens the new leg at the fill price.
func (c *CostTracker) ApplyFill(quantity int64, price decimal.Decimal) decimal.Decimal {
	if quantity == 0 {
		return decimal.Zero
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	profit := decimal.Zero
	samesign := c.position == 0 || (c.position > 0) == (quantity > 0)

	if samesign {
		oldAbs := decimal.NewFromInt(abs(c.position))
		addAbs := decimal.NewFromInt(abs(quantity))
		total := oldAbs.Add(addAbs)
		c.avgCost = c.avgCost.Mul(oldAbs).Add(price.Mul(addAbs)).Div(total)
		c.position += quantity
		return profit
	}

	closed := abs(quantity)
	if closed > abs(c.position) {
		closed = abs(c.position)
	}

	side := decimal.NewFromInt(1)
	if c.position < 0 {
		side = decimal.NewFromInt(-1)
	}
	profit = decimal.NewFromInt(closed).
		Mul(c.leverage).
		Mul(price.Sub(c.avgCost)).
		Mul(side)

	c.position += quantity
	switch {
	case c.position == 0:
		c.avgCost = decimal.Zero
	case (c.position > 0) != (side.IsPositive()):
		// Flipped through zero: the residual leg opened at this price.
		c.avgCost = price
	}

	return profit
}

// Position returns the current signed position.
func (c *CostTracker) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// AvgCost returns the average cost basis, zero when flat.
func (c *CostTracker) AvgCost() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avgCost
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
