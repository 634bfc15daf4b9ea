package orderbook

import (
	"errors"

	"github.com/google/btree"

	"github.com/nexuscore/exchange/internal/fixedpoint"
)

// btreeDegree follows the corpus's own choice for a price-level tree: wide
// enough that most books stay within one or two levels of the root.
const btreeDegree = 32

// priceLevelItem is the btree.Item stored in a BookSide's tree. The tree is
// always ordered ascending by raw price; BookSide.Best picks Min or Max
// depending on which side it represents.
type priceLevelItem struct {
	price int64
	level *PriceLevel
}

func (i *priceLevelItem) Less(than btree.Item) bool {
	return i.price < than.(*priceLevelItem).price
}

// BookSide is one side (bids or asks) of an order book: a price-ordered map
// of PriceLevel FIFO queues. Bids are the descending side (best = highest
// price), asks the ascending side (best = lowest price).
type BookSide struct {
	tree       *btree.BTree
	descending bool
}

func newBookSide(descending bool) *BookSide {
	return &BookSide{tree: btree.New(btreeDegree), descending: descending}
}

func (s *BookSide) find(price fixedpoint.Price) *PriceLevel {
	item := s.tree.Get(&priceLevelItem{price: price.Raw()})
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

func (s *BookSide) getOrCreate(price fixedpoint.Price) *PriceLevel {
	if lvl := s.find(price); lvl != nil {
		return lvl
	}
	lvl := newPriceLevel(price)
	s.tree.ReplaceOrInsert(&priceLevelItem{price: price.Raw(), level: lvl})
	return lvl
}

func (s *BookSide) removeLevel(price fixedpoint.Price) {
	s.tree.Delete(&priceLevelItem{price: price.Raw()})
}

// Best returns the best (highest bid / lowest ask) resting price level, or
// nil if this side is empty.
func (s *BookSide) Best() *PriceLevel {
	var item btree.Item
	if s.descending {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

// Len returns the number of distinct price levels on this side.
func (s *BookSide) Len() int { return s.tree.Len() }

// Levels returns price levels in priority order (best first).
func (s *BookSide) Levels() []*PriceLevel {
	out := make([]*PriceLevel, 0, s.tree.Len())
	iter := func(item btree.Item) bool {
		out = append(out, item.(*priceLevelItem).level)
		return true
	}
	if s.descending {
		s.tree.Descend(iter)
	} else {
		s.tree.Ascend(iter)
	}
	return out
}

// ErrOrderNotFound is returned by CancelOrder/GetOrder for an unknown id.
var ErrOrderNotFound = errors.New("orderbook: order not found")

// ErrDuplicateOrderID is returned by AddOrder when the id already rests.
var ErrDuplicateOrderID = errors.New("orderbook: duplicate order id")

// OrderBook is a single instrument's two-sided resting-order book.
type OrderBook struct {
	Bids  *BookSide
	Asks  *BookSide
	index map[uint64]*orderNode
}

// New creates an empty order book.
func New() *OrderBook {
	return &OrderBook{
		Bids:  newBookSide(true),
		Asks:  newBookSide(false),
		index: make(map[uint64]*orderNode),
	}
}

func (b *OrderBook) sideFor(side fixedpoint.Side) *BookSide {
	if side == fixedpoint.Buy {
		return b.Bids
	}
	return b.Asks
}

// AddOrder rests an order in its side's book at its price.
func (b *OrderBook) AddOrder(o *Order) error {
	if _, exists := b.index[o.ID]; exists {
		return ErrDuplicateOrderID
	}
	level := b.sideFor(o.Side).getOrCreate(o.Price)
	node := &orderNode{order: o}
	level.append(node)
	b.index[o.ID] = node
	return nil
}

// CancelOrder removes a resting order by id, returning it.
func (b *OrderBook) CancelOrder(id uint64) (*Order, error) {
	node, ok := b.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	level := node.level
	level.remove(node)
	delete(b.index, id)
	if level.isEmpty() {
		b.sideFor(node.order.Side).removeLevel(level.Price)
	}
	return node.order, nil
}

// GetOrder looks up a resting order by id without removing it.
func (b *OrderBook) GetOrder(id uint64) (*Order, bool) {
	node, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return node.order, true
}

// removeLevelIfEmpty drops a level from its side once it has no orders left;
// the matching engine calls this after popping the front of a level it is
// crossing against.
func (b *OrderBook) removeLevelIfEmpty(side fixedpoint.Side, level *PriceLevel) {
	if level.isEmpty() {
		b.sideFor(side).removeLevel(level.Price)
	}
}

// popFront removes and returns the node at the front of a level, detaching it
// from the book's id index too. Used by the matching engine when a maker is
// fully consumed by a fill.
func (b *OrderBook) popFront(side fixedpoint.Side, level *PriceLevel) *orderNode {
	n := level.front()
	if n == nil {
		return nil
	}
	level.remove(n)
	delete(b.index, n.order.ID)
	b.removeLevelIfEmpty(side, level)
	return n
}

// PopFrontForSide removes the order at the front of level (the FIFO-oldest
// resting order) and drops the level from the tree if it becomes empty. It
// returns the removed order, or nil if the level was already empty. This is
// the crossing loop's hook for fully consuming a maker, whether through a
// fill or through self-trade prevention.
func (b *OrderBook) PopFrontForSide(side fixedpoint.Side, level *PriceLevel) *Order {
	n := b.popFront(side, level)
	if n == nil {
		return nil
	}
	return n.order
}

// BestBid returns the best bid price, if any.
func (b *OrderBook) BestBid() (fixedpoint.Price, bool) {
	lvl := b.Bids.Best()
	if lvl == nil {
		return fixedpoint.Price{}, false
	}
	return lvl.Price, true
}

// BestAsk returns the best ask price, if any.
func (b *OrderBook) BestAsk() (fixedpoint.Price, bool) {
	lvl := b.Asks.Best()
	if lvl == nil {
		return fixedpoint.Price{}, false
	}
	return lvl.Price, true
}

// Midpoint returns the midpoint of best bid and best ask, if both exist.
func (b *OrderBook) Midpoint() (fixedpoint.Price, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return fixedpoint.Price{}, false
	}
	return fixedpoint.Midpoint(bid, ask), true
}

// TotalOrders returns the number of resting orders across both sides.
func (b *OrderBook) TotalOrders() int { return len(b.index) }

// PriceLevelSnapshot is one aggregated row of an L2 depth snapshot: a price
// and the total resting quantity and order count behind it, with no
// per-order detail.
type PriceLevelSnapshot struct {
	Price         fixedpoint.Price
	AggregatedQty fixedpoint.Quantity
	OrderCount    int
}

func snapshotSide(side *BookSide, depth int) []PriceLevelSnapshot {
	levels := side.Levels()
	if depth > 0 && depth < len(levels) {
		levels = levels[:depth]
	}
	out := make([]PriceLevelSnapshot, len(levels))
	for i, lvl := range levels {
		out[i] = PriceLevelSnapshot{Price: lvl.Price, AggregatedQty: lvl.TotalQty, OrderCount: lvl.Count()}
	}
	return out
}

// L2Snapshot returns up to depth price levels from best outward on each
// side, aggregated to price/quantity/order-count — no per-order detail. A
// depth of 0 or less returns every resting level.
func (b *OrderBook) L2Snapshot(depth int) (bids, asks []PriceLevelSnapshot) {
	return snapshotSide(b.Bids, depth), snapshotSide(b.Asks, depth)
}

// CancelAllForTrader removes every resting order owned by traderID from both
// sides of the book, pruning any level left empty, and returns the ids of
// the orders removed. Exchange.BanTrader calls this right after the guardian
// bans a trader so nothing of theirs can still match.
func (b *OrderBook) CancelAllForTrader(traderID uint64) []uint64 {
	var removed []uint64
	for _, side := range []*BookSide{b.Bids, b.Asks} {
		for _, level := range side.Levels() {
			for _, n := range level.nodesForTrader(traderID) {
				level.remove(n)
				delete(b.index, n.order.ID)
				removed = append(removed, n.order.ID)
			}
			if level.isEmpty() {
				side.removeLevel(level.Price)
			}
		}
	}
	return removed
}

// Clear drops every resting order on both sides, resetting the book to the
// state New returns.
func (b *OrderBook) Clear() {
	b.Bids = newBookSide(true)
	b.Asks = newBookSide(false)
	b.index = make(map[uint64]*orderNode)
}
