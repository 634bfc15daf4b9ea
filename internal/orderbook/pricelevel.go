package orderbook

import "github.com/nexuscore/exchange/internal/fixedpoint"

// PriceLevel is a FIFO queue of orders resting at a single price, maintained
// as a doubly linked list so that cancel-anywhere is O(1) once the node is
// known, and the front of the queue (oldest order) is O(1) to read or pop.
type PriceLevel struct {
	Price    fixedpoint.Price
	head     *orderNode
	tail     *orderNode
	count    int
	TotalQty fixedpoint.Quantity
}

func newPriceLevel(price fixedpoint.Price) *PriceLevel {
	return &PriceLevel{Price: price}
}

// append adds an order node to the back of the queue.
func (pl *PriceLevel) append(n *orderNode) {
	n.level = pl
	n.prev = pl.tail
	n.next = nil
	if pl.tail != nil {
		pl.tail.next = n
	} else {
		pl.head = n
	}
	pl.tail = n
	pl.count++
	pl.TotalQty = fixedpoint.NewQuantity(pl.TotalQty.Raw() + n.order.Quantity.Raw())
}

// remove detaches a node from wherever it sits in the queue.
func (pl *PriceLevel) remove(n *orderNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		pl.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		pl.tail = n.prev
	}
	n.prev, n.next, n.level = nil, nil, nil
	pl.count--
	pl.TotalQty = fixedpoint.NewQuantity(pl.TotalQty.Raw() - n.order.Quantity.Raw())
}

// front returns the oldest resting order's node, or nil if the level is empty.
func (pl *PriceLevel) front() *orderNode {
	return pl.head
}

// isEmpty reports whether the level has no resting orders left.
func (pl *PriceLevel) isEmpty() bool {
	return pl.count == 0
}

// Count returns the number of resting orders at this level.
func (pl *PriceLevel) Count() int { return pl.count }

// Orders returns the resting orders at this level, oldest first.
func (pl *PriceLevel) Orders() []*Order {
	out := make([]*Order, 0, pl.count)
	for n := pl.head; n != nil; n = n.next {
		out = append(out, n.order)
	}
	return out
}

// nodesForTrader collects every node at this level owned by traderID. It
// returns a plain slice, not a live view, so the caller can remove() each
// one while iterating without disturbing the linked list underfoot.
func (pl *PriceLevel) nodesForTrader(traderID uint64) []*orderNode {
	var out []*orderNode
	for n := pl.head; n != nil; n = n.next {
		if n.order.TraderID == traderID {
			out = append(out, n)
		}
	}
	return out
}

// setFrontQuantity updates the remaining quantity of the level's front order,
// used after a partial fill against it.
func (pl *PriceLevel) setFrontQuantity(q fixedpoint.Quantity) {
	n := pl.head
	delta := int64(q.Raw()) - int64(n.order.Quantity.Raw())
	n.order.Quantity = q
	pl.TotalQty = fixedpoint.NewQuantity(uint32(int64(pl.TotalQty.Raw()) + delta))
}
