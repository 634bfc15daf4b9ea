// Package marketdata is a thin, non-authoritative fan-out of exchange
// output. It holds no state of its own and makes no decisions: it exists
// only to hand L1/L2/trade snapshots to whatever external subscriber wants
// them, on a best-effort basis.
package marketdata

import (
	"sync"

	"github.com/nexuscore/exchange/internal/fixedpoint"
)

// L1Quote is the best bid/ask snapshot after a book-changing event.
type L1Quote struct {
	BestBid    fixedpoint.Price
	BestBidQty fixedpoint.Quantity
	BestAsk    fixedpoint.Price
	BestAskQty fixedpoint.Quantity
}

// PriceLevel is one row of an L2Depth snapshot.
type PriceLevel struct {
	Price fixedpoint.Price
	Qty   fixedpoint.Quantity
}

// L2Depth is a depth-limited snapshot of both sides of the book.
type L2Depth struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// TradeReport is published once per fill.
type TradeReport struct {
	TradeID  uint64
	Price    fixedpoint.Price
	Quantity fixedpoint.Quantity
	Side     fixedpoint.Side
}

const defaultBufferSize = 64

// Publisher fans out L1/L2/trade events to any number of subscriber
// channels. Sends are always non-blocking: a slow or absent subscriber
// drops updates rather than stalling the pipeline that publishes them.
type Publisher struct {
	mu         sync.RWMutex
	l1Subs     []chan L1Quote
	l2Subs     []chan L2Depth
	tradeSubs  []chan TradeReport
	bufferSize int
}

// NewPublisher creates an empty publisher with the given subscriber channel
// buffer size (0 selects a sane default).
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Publisher{bufferSize: bufferSize}
}

// SubscribeL1 returns a channel that receives every published L1Quote.
func (p *Publisher) SubscribeL1() <-chan L1Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan L1Quote, p.bufferSize)
	p.l1Subs = append(p.l1Subs, ch)
	return ch
}

// SubscribeL2 returns a channel that receives every published L2Depth.
func (p *Publisher) SubscribeL2() <-chan L2Depth {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan L2Depth, p.bufferSize)
	p.l2Subs = append(p.l2Subs, ch)
	return ch
}

// SubscribeTrades returns a channel that receives every published TradeReport.
func (p *Publisher) SubscribeTrades() <-chan TradeReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan TradeReport, p.bufferSize)
	p.tradeSubs = append(p.tradeSubs, ch)
	return ch
}

// PublishL1 fans an L1Quote out to every L1 subscriber, dropping it for any
// subscriber whose buffer is full.
func (p *Publisher) PublishL1(q L1Quote) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.l1Subs {
		select {
		case ch <- q:
		default:
		}
	}
}

// PublishL2 fans an L2Depth snapshot out to every L2 subscriber.
func (p *Publisher) PublishL2(d L2Depth) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.l2Subs {
		select {
		case ch <- d:
		default:
		}
	}
}

// PublishTrade fans a TradeReport out to every trade subscriber.
func (p *Publisher) PublishTrade(t TradeReport) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.tradeSubs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Close closes every subscriber channel. Callers must not publish afterward.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.l1Subs {
		close(ch)
	}
	for _, ch := range p.l2Subs {
		close(ch)
	}
	for _, ch := range p.tradeSubs {
		close(ch)
	}
	p.l1Subs, p.l2Subs, p.tradeSubs = nil, nil, nil
}
