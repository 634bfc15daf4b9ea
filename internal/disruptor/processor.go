package disruptor

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nexuscore/exchange/internal/exchange"
)

// EventProcessor is the ring's single consumer: it spins on the next
// sequence becoming visible, hands the request to the exchange pipeline,
// and replies on the request's own response channel. Exactly one goroutine
// ever runs processLoop, which is what gives the exchange its total order.
type EventProcessor struct {
	rb       *RingBuffer
	exchange *exchange.Exchange
	logger   *zap.Logger

	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownDone chan struct{}
}

// NewEventProcessor builds a consumer over rb that submits to ex.
func NewEventProcessor(rb *RingBuffer, ex *exchange.Exchange, logger *zap.Logger) *EventProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventProcessor{
		rb:           rb,
		exchange:     ex,
		logger:       logger,
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Callers must call Shutdown before
// the process exits.
func (p *EventProcessor) Start() {
	p.running.Store(true)
	go p.processLoop()
}

func (p *EventProcessor) processLoop() {
	defer close(p.shutdownDone)
	next := int64(0)
	for {
		select {
		case <-p.shutdownCh:
			return
		default:
		}
		slot := p.rb.slotFor(next)
		if atomic.LoadInt64(&slot.SequenceNum) != next {
			runtime.Gosched()
			continue
		}
		p.processRequest(slot.Request)
		slot.Request = nil
		atomic.StoreInt64(&p.rb.gatingSequence, next)
		next++
	}
}

func (p *EventProcessor) processRequest(req *OrderRequest) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic processing disruptor request", zap.Any("recover", r))
			if req != nil && req.ResponseCh != nil {
				select {
				case req.ResponseCh <- OrderResponse{Err: errRecovered(r)}:
				default:
				}
			}
		}
	}()

	switch req.Type {
	case RequestTypeSubmitOrder:
		p.processSubmitOrder(req)
	case RequestTypeCancelOrder:
		p.processCancelOrder(req)
	case RequestTypeBanTrader:
		p.processBanTrader(req)
	}
}

func (p *EventProcessor) processSubmitOrder(req *OrderRequest) {
	result, err := p.exchange.SubmitOrder(req.TraderID, req.Side, req.Price, req.Quantity, req.OrderType, req.TimeInForce)
	if req.ResponseCh == nil {
		return
	}
	select {
	case req.ResponseCh <- OrderResponse{Result: result, Err: err}:
	default:
	}
}

func (p *EventProcessor) processCancelOrder(req *OrderRequest) {
	err := p.exchange.CancelOrder(req.TraderID, req.OrderID)
	if req.ResponseCh == nil {
		return
	}
	select {
	case req.ResponseCh <- OrderResponse{Err: err}:
	default:
	}
}

func (p *EventProcessor) processBanTrader(req *OrderRequest) {
	removed := p.exchange.BanTrader(req.TraderID)
	if req.ResponseCh == nil {
		return
	}
	select {
	case req.ResponseCh <- OrderResponse{CancelledOrderIDs: removed}:
	default:
	}
}

// Shutdown stops the consumer goroutine and waits for it to exit.
func (p *EventProcessor) Shutdown() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.shutdownCh)
	<-p.shutdownDone
}

type recoveredPanicError struct{ v interface{} }

func (e recoveredPanicError) Error() string {
	return "disruptor: recovered panic processing request"
}

func errRecovered(v interface{}) error { return recoveredPanicError{v: v} }
