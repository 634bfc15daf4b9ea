// Package matching implements the price-time priority crossing algorithm:
// aggressor against resting maker liquidity, self-trade prevention, and the
// pre-trade fat-finger/quantity gates that run before an order ever touches
// the book.
package matching

import (
	"fmt"
	"math/big"

	"github.com/nexuscore/exchange/internal/fixedpoint"
	"github.com/nexuscore/exchange/internal/orderbook"
)

// OrderType distinguishes a limit order from a market order. Every order,
// market or limit, still carries a price and passes the price gates with
// it; a limit order never trades through its price, while a market order
// crosses at any price and never rests.
type OrderType uint8

const (
	Limit  OrderType = 1
	Market OrderType = 2
)

// TimeInForce governs what happens to quantity left over after matching.
type TimeInForce uint8

const (
	GTC TimeInForce = 1 // rest any remainder on the book
	IOC TimeInForce = 2 // cancel any remainder immediately
	FOK TimeInForce = 3 // all-or-nothing: reject before matching if it can't fill in full
)

// RejectCode enumerates the pre-trade gates an order can fail.
type RejectCode int

const (
	RejectInvalidPrice RejectCode = iota + 1
	RejectInvalidQuantity
	RejectMaxQuantity
	RejectFatFinger
	RejectWouldNotFillCompletely
)

// RejectReason is a typed, errors.As-compatible rejection. It is never a bare
// string: callers branch on Code, not on Error().
type RejectReason struct {
	Code           RejectCode
	Requested      uint32
	Max            uint32
	OrderPrice     fixedpoint.Price
	ReferencePrice fixedpoint.Price
}

func (r RejectReason) Error() string {
	switch r.Code {
	case RejectInvalidPrice:
		return "matching: invalid price"
	case RejectInvalidQuantity:
		return "matching: invalid quantity"
	case RejectMaxQuantity:
		return fmt.Sprintf("matching: quantity %d exceeds max %d", r.Requested, r.Max)
	case RejectFatFinger:
		return fmt.Sprintf("matching: price %d outside fat-finger band of reference %d", r.OrderPrice.Raw(), r.ReferencePrice.Raw())
	case RejectWouldNotFillCompletely:
		return "matching: fill-or-kill order could not be filled in full"
	default:
		return "matching: rejected"
	}
}

// RiskConfig bounds what the matching engine will accept before an order
// touches the book. In the exchange pipeline these gates run after the
// guardian has already validated the order and locked its margin.
type RiskConfig struct {
	MaxQuantity           fixedpoint.Quantity
	MaxPriceDeviationPct  int64 // percentage scaled by fixedpoint.Scale, e.g. 10% == 10*fixedpoint.Scale
}

// DefaultRiskConfig mirrors conservative defaults: a one-million-lot max clip
// size and a 20% fat-finger band once a reference price exists.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxQuantity:          fixedpoint.NewQuantity(1_000_000),
		MaxPriceDeviationPct: 20 * fixedpoint.Scale,
	}
}

// Fill is one match between an incoming (taker) order and a resting (maker)
// order.
type Fill struct {
	TradeID        uint64
	MakerOrderID   uint64
	TakerOrderID   uint64
	MakerTraderID  uint64
	TakerTraderID  uint64
	Price          fixedpoint.Price
	Quantity       fixedpoint.Quantity
	TakerSide      fixedpoint.Side
}

// MatchResult is everything that happened as a consequence of submitting one
// order: zero or more fills, zero or more maker orders cancelled by
// self-trade prevention, and whatever quantity is left over.
type MatchResult struct {
	OrderID    uint64
	Fills      []Fill
	STPCancels []uint64
	RestingQty fixedpoint.Quantity
}

// Engine is a single instrument's matching engine: one order book, one risk
// gate, and the monotonic counters needed for deterministic IDs.
type Engine struct {
	book           *orderbook.OrderBook
	riskConfig     RiskConfig
	nextOrderID    uint64
	nextTradeID    uint64
	tsCounter      uint64
	lastTradePrice *fixedpoint.Price
}

// New creates an engine with the given risk gates over a fresh order book.
func New(cfg RiskConfig) *Engine {
	return &Engine{
		book:       orderbook.New(),
		riskConfig: cfg,
	}
}

// Book exposes the underlying order book for read-only queries (best
// bid/ask, depth, recovery snapshots).
func (e *Engine) Book() *orderbook.OrderBook { return e.book }

// LastTradePrice returns the most recent fill price, if any trade has
// occurred yet.
func (e *Engine) LastTradePrice() (fixedpoint.Price, bool) {
	if e.lastTradePrice == nil {
		return fixedpoint.Price{}, false
	}
	return *e.lastTradePrice, true
}

// SetLastTradePrice sets the fat-finger reference. The crossing loop calls
// it on every fill; recovery restores it by replaying those fills.
func (e *Engine) SetLastTradePrice(p fixedpoint.Price) {
	cp := p
	e.lastTradePrice = &cp
}

// NextOrderID reserves the next order id without assigning it to an order,
// used by callers (the exchange pipeline) that must know the id before the
// journal entry is written.
func (e *Engine) NextOrderID() uint64 {
	e.nextOrderID++
	return e.nextOrderID
}

func (e *Engine) tick() uint64 {
	e.tsCounter++
	return e.tsCounter
}

func (e *Engine) validateRisk(price fixedpoint.Price, qty fixedpoint.Quantity) error {
	if price.Raw() <= 0 {
		return RejectReason{Code: RejectInvalidPrice}
	}
	if qty.IsZero() {
		return RejectReason{Code: RejectInvalidQuantity}
	}
	if qty.Raw() > e.riskConfig.MaxQuantity.Raw() {
		return RejectReason{Code: RejectMaxQuantity, Requested: qty.Raw(), Max: e.riskConfig.MaxQuantity.Raw()}
	}
	if e.lastTradePrice != nil && e.riskConfig.MaxPriceDeviationPct > 0 {
		ref := *e.lastTradePrice
		if ref.Raw() != 0 {
			// |price-ref| * 100 * Scale exceeds int64 for ordinary prices, so
			// the scaled percentage is computed in arbitrary precision.
			deviation := new(big.Int).Mul(big.NewInt(absInt64(price.Raw()-ref.Raw())), big.NewInt(100*fixedpoint.Scale))
			deviation.Quo(deviation, big.NewInt(ref.Raw()))
			if deviation.Cmp(big.NewInt(e.riskConfig.MaxPriceDeviationPct)) > 0 {
				return RejectReason{Code: RejectFatFinger, OrderPrice: price, ReferencePrice: ref}
			}
		}
	}
	return nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// SubmitOrder runs the full pre-trade gate and crossing algorithm for a new
// order using an id already reserved by the caller (the exchange pipeline
// reserves the id before writing the journal entry, so that the WAL and the
// engine never disagree on what id an order received).
func (e *Engine) SubmitOrder(orderID, traderID uint64, side fixedpoint.Side, price fixedpoint.Price, qty fixedpoint.Quantity, orderType OrderType, tif TimeInForce) (*MatchResult, error) {
	if err := e.validateRisk(price, qty); err != nil {
		return nil, err
	}
	if tif == FOK && !e.canFillEntirely(side, price, qty) {
		return nil, RejectReason{Code: RejectWouldNotFillCompletely}
	}

	e.tick()

	var remaining fixedpoint.Quantity
	var fills []Fill
	var stpCancels []uint64
	if side == fixedpoint.Buy {
		remaining, fills, stpCancels = e.matchAgainstAsks(orderID, traderID, price, qty, orderType)
	} else {
		remaining, fills, stpCancels = e.matchAgainstBids(orderID, traderID, price, qty, orderType)
	}

	if remaining.Raw() > 0 {
		if orderType == Market || tif == IOC || tif == FOK {
			remaining = fixedpoint.NewQuantity(0)
		} else {
			resting := &orderbook.Order{
				ID:       orderID,
				TraderID: traderID,
				Side:     side,
				Price:    price,
				Quantity: remaining,
			}
			if err := e.book.AddOrder(resting); err != nil {
				return nil, err
			}
		}
	}

	return &MatchResult{
		OrderID:    orderID,
		Fills:      fills,
		STPCancels: stpCancels,
		RestingQty: remaining,
	}, nil
}

// canFillEntirely reports whether the opposing side currently holds enough
// quantity, at prices acceptable to the incoming limit, to fill qty in one
// pass. Used only to pre-check fill-or-kill orders before any state mutates.
func (e *Engine) canFillEntirely(side fixedpoint.Side, price fixedpoint.Price, qty fixedpoint.Quantity) bool {
	var total int64
	if side == fixedpoint.Buy {
		for _, lvl := range e.book.Asks.Levels() {
			if lvl.Price.Raw() > price.Raw() {
				break
			}
			total += int64(lvl.TotalQty.Raw())
			if total >= int64(qty.Raw()) {
				return true
			}
		}
	} else {
		for _, lvl := range e.book.Bids.Levels() {
			if lvl.Price.Raw() < price.Raw() {
				break
			}
			total += int64(lvl.TotalQty.Raw())
			if total >= int64(qty.Raw()) {
				return true
			}
		}
	}
	return total >= int64(qty.Raw())
}

func minQty(a, b fixedpoint.Quantity) fixedpoint.Quantity {
	if a.Raw() < b.Raw() {
		return a
	}
	return b
}

// matchAgainstAsks drains resting ask liquidity for an incoming buy order.
func (e *Engine) matchAgainstAsks(takerID, takerTrader uint64, limit fixedpoint.Price, qty fixedpoint.Quantity, orderType OrderType) (fixedpoint.Quantity, []Fill, []uint64) {
	remaining := qty
	fills := make([]Fill, 0, 8)
	stpCancels := make([]uint64, 0)

	for remaining.Raw() > 0 {
		level := e.book.Asks.Best()
		if level == nil {
			break
		}
		if orderType == Limit && level.Price.Raw() > limit.Raw() {
			break
		}
		node := level.front()
		if node == nil {
			break
		}
		maker := node.order
		if maker.TraderID == takerTrader {
			e.book.PopFrontForSide(fixedpoint.Sell, level)
			stpCancels = append(stpCancels, maker.ID)
			continue
		}
		fillQty := minQty(remaining, maker.Quantity)
		fillPrice := maker.Price
		e.nextTradeID++
		fills = append(fills, Fill{
			TradeID:       e.nextTradeID,
			MakerOrderID:  maker.ID,
			TakerOrderID:  takerID,
			MakerTraderID: maker.TraderID,
			TakerTraderID: takerTrader,
			Price:         fillPrice,
			Quantity:      fillQty,
			TakerSide:     fixedpoint.Buy,
		})
		remaining = fixedpoint.NewQuantity(remaining.Raw() - fillQty.Raw())
		e.SetLastTradePrice(fillPrice)
		if fillQty.Raw() == maker.Quantity.Raw() {
			e.book.PopFrontForSide(fixedpoint.Sell, level)
		} else {
			level.setFrontQuantity(fixedpoint.NewQuantity(maker.Quantity.Raw() - fillQty.Raw()))
		}
	}
	return remaining, fills, stpCancels
}

// matchAgainstBids drains resting bid liquidity for an incoming sell order.
func (e *Engine) matchAgainstBids(takerID, takerTrader uint64, limit fixedpoint.Price, qty fixedpoint.Quantity, orderType OrderType) (fixedpoint.Quantity, []Fill, []uint64) {
	remaining := qty
	fills := make([]Fill, 0, 8)
	stpCancels := make([]uint64, 0)

	for remaining.Raw() > 0 {
		level := e.book.Bids.Best()
		if level == nil {
			break
		}
		if orderType == Limit && level.Price.Raw() < limit.Raw() {
			break
		}
		node := level.front()
		if node == nil {
			break
		}
		maker := node.order
		if maker.TraderID == takerTrader {
			e.book.PopFrontForSide(fixedpoint.Buy, level)
			stpCancels = append(stpCancels, maker.ID)
			continue
		}
		fillQty := minQty(remaining, maker.Quantity)
		fillPrice := maker.Price
		e.nextTradeID++
		fills = append(fills, Fill{
			TradeID:       e.nextTradeID,
			MakerOrderID:  maker.ID,
			TakerOrderID:  takerID,
			MakerTraderID: maker.TraderID,
			TakerTraderID: takerTrader,
			Price:         fillPrice,
			Quantity:      fillQty,
			TakerSide:     fixedpoint.Sell,
		})
		remaining = fixedpoint.NewQuantity(remaining.Raw() - fillQty.Raw())
		e.SetLastTradePrice(fillPrice)
		if fillQty.Raw() == maker.Quantity.Raw() {
			e.book.PopFrontForSide(fixedpoint.Buy, level)
		} else {
			level.setFrontQuantity(fixedpoint.NewQuantity(maker.Quantity.Raw() - fillQty.Raw()))
		}
	}
	return remaining, fills, stpCancels
}

// CancelOrder removes a resting order from the book.
func (e *Engine) CancelOrder(id uint64) (*orderbook.Order, error) {
	return e.book.CancelOrder(id)
}

// GetOrder looks up a resting order.
func (e *Engine) GetOrder(id uint64) (*orderbook.Order, bool) {
	return e.book.GetOrder(id)
}
