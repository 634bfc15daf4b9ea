package disruptor

import (
	"runtime"
	"sync/atomic"
)

const claimSpinLimit = 10000

// Sequencer hands out slot claims to producers via an atomic compare-and-swap
// loop, so any number of producer goroutines can call Next concurrently
// without a lock, while the ring still enforces one writer per slot.
type Sequencer struct {
	rb *RingBuffer
}

// NewSequencer wraps rb for producer-side claiming.
func NewSequencer(rb *RingBuffer) *Sequencer {
	return &Sequencer{rb: rb}
}

// Next claims the next sequence number, backing off while the consumer has
// not yet freed the slot that sequence would wrap onto.
func (s *Sequencer) Next() (int64, error) {
	for spins := 0; spins < claimSpinLimit; spins++ {
		current := atomic.LoadInt64(&s.rb.cursor)
		next := current + 1
		gating := atomic.LoadInt64(&s.rb.gatingSequence)
		if next-s.rb.bufferSize > gating {
			runtime.Gosched()
			continue
		}
		if atomic.CompareAndSwapInt64(&s.rb.cursor, current, next) {
			return next, nil
		}
	}
	return 0, ErrBufferFull
}

// Publish writes the request into its claimed slot. The slot's own
// SequenceNum field is written last and read with Load/Store as the release
// barrier the single consumer spins on.
func (s *Sequencer) Publish(seq int64, request *OrderRequest) {
	slot := s.rb.slotFor(seq)
	slot.Request = request
	atomic.StoreInt64(&slot.SequenceNum, seq)
}
