// Package disruptor is the exchange's single-producer-single-consumer
// funnel: external gateways publish requests from any goroutine, but only
// one goroutine ever drains them into the exchange pipeline, so the journal
// sees one deterministic total order regardless of how many producers there
// are.
package disruptor

import (
	"errors"

	"github.com/nexuscore/exchange/internal/fixedpoint"
	"github.com/nexuscore/exchange/internal/matching"
)

// RequestType distinguishes the three request shapes a producer can publish.
type RequestType int

const (
	RequestTypeSubmitOrder RequestType = iota
	RequestTypeCancelOrder
	RequestTypeBanTrader
)

// OrderRequest is one slot's payload: everything submitOrder/cancelOrder/
// banTrader needs, plus the response channel the consumer replies on.
type OrderRequest struct {
	Type        RequestType
	TraderID    uint64
	Side        fixedpoint.Side
	Price       fixedpoint.Price
	Quantity    fixedpoint.Quantity
	OrderType   matching.OrderType
	TimeInForce matching.TimeInForce
	OrderID     uint64 // cancel target
	ResponseCh  chan OrderResponse
}

// OrderResponse is what the consumer publishes back once it has processed a
// request. CancelledOrderIDs is only populated for a ban-trader request.
type OrderResponse struct {
	Result            *matching.MatchResult
	Err               error
	CancelledOrderIDs []uint64
}

// ringBufferSlot is padded to a cache line so adjacent slots never false-share
// under concurrent producer/consumer access. The request itself is heap
// allocated and referenced by pointer so the slot stays cache-line sized
// regardless of how OrderRequest grows.
type ringBufferSlot struct {
	SequenceNum int64
	Request     *OrderRequest
	_           [64 - 16]byte
}

// ErrBufferFull is returned by Sequencer.Next when the ring is saturated:
// the consumer has not kept up with however many in-flight slots the ring
// allows.
var ErrBufferFull = errors.New("disruptor: ring buffer full")

// Config sizes the ring. BufferSize must be a power of two.
type Config struct {
	BufferSize int
}

// DefaultConfig matches the teacher's default capacity.
func DefaultConfig() Config {
	return Config{BufferSize: 8192}
}

// RingBuffer is the fixed-size slot array plus the two cursors (producer
// claim cursor and consumer gating cursor) that make it safe for exactly one
// producer-side claimant at a time and exactly one consumer.
type RingBuffer struct {
	bufferSize     int64
	indexMask      int64
	slots          []ringBufferSlot
	cursor         int64 // highest published sequence
	gatingSequence int64 // highest sequence the consumer has processed
}

// NewRingBuffer allocates a ring whose size is the next power of two at or
// above cfg.BufferSize.
func NewRingBuffer(cfg Config) *RingBuffer {
	size := nextPowerOfTwo(cfg.BufferSize)
	rb := &RingBuffer{
		bufferSize:     int64(size),
		indexMask:      int64(size - 1),
		slots:          make([]ringBufferSlot, size),
		cursor:         -1,
		gatingSequence: -1,
	}
	// No slot holds a published sequence yet; -1 keeps the consumer from
	// taking an empty slot 0 for sequence 0 before it is published.
	for i := range rb.slots {
		rb.slots[i].SequenceNum = -1
	}
	return rb
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (rb *RingBuffer) slotFor(seq int64) *ringBufferSlot {
	return &rb.slots[seq&rb.indexMask]
}
