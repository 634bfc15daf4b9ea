// Package orderbook implements the two-sided, price-time-priority order book:
// a price-ordered map of FIFO queues per side, backed by github.com/google/btree.
package orderbook

import (
	"fmt"

	"github.com/nexuscore/exchange/internal/fixedpoint"
)

// Order is a single resting or incoming order. TraderID is the reconciliation
// key used by the guardian and by self-trade prevention; orders never hold a
// pointer back to an Account.
type Order struct {
	ID            uint64
	ClientOrderID uint64
	TraderID      uint64
	Side          fixedpoint.Side
	Price         fixedpoint.Price
	Quantity      fixedpoint.Quantity
	Sequence      uint64
}

// RemainingQty reports the unfilled lots still resting for this order.
func (o *Order) RemainingQty() fixedpoint.Quantity { return o.Quantity }

func (o *Order) String() string {
	return fmt.Sprintf("Order{id=%d trader=%d side=%s price=%s qty=%s}",
		o.ID, o.TraderID, o.Side, o.Price, o.Quantity)
}

// orderNode is a node in a PriceLevel's intrusive doubly linked FIFO queue.
type orderNode struct {
	order      *Order
	prev, next *orderNode
	level      *PriceLevel
}
