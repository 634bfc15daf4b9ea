package disruptor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscore/exchange/internal/exchange"
	"github.com/nexuscore/exchange/internal/fixedpoint"
	"github.com/nexuscore/exchange/internal/guardian"
	"github.com/nexuscore/exchange/internal/matching"
	"github.com/nexuscore/exchange/internal/sentinel"
)

func px(v int64) fixedpoint.Price { return fixedpoint.NewPrice(v * fixedpoint.Scale) }

func newTestPipeline(t *testing.T) (*RingBuffer, *Sequencer, *EventProcessor, *exchange.Exchange) {
	t.Helper()
	journal, err := sentinel.Open(filepath.Join(t.TempDir(), "journal.bin"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	engine := matching.New(matching.DefaultRiskConfig())
	g := guardian.New(guardian.DefaultGuardianConfig(), nil)
	ex := exchange.New(engine, g, journal, nil)

	rb := NewRingBuffer(Config{BufferSize: 16})
	seq := NewSequencer(rb)
	proc := NewEventProcessor(rb, ex, nil)
	proc.Start()
	t.Cleanup(proc.Shutdown)
	return rb, seq, proc, ex
}

func submitAndWait(t *testing.T, seq *Sequencer, req *OrderRequest) OrderResponse {
	t.Helper()
	n, err := seq.Next()
	require.NoError(t, err)
	seq.Publish(n, req)
	select {
	case resp := <-req.ResponseCh:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disruptor response")
		return OrderResponse{}
	}
}

func TestRingBufferFunnelsSubmitOrder(t *testing.T) {
	_, seq, _, ex := newTestPipeline(t)
	require.NoError(t, ex.AddFunds(1, px(100000)))

	resp := submitAndWait(t, seq, &OrderRequest{
		Type:        RequestTypeSubmitOrder,
		TraderID:    1,
		Side:        fixedpoint.Buy,
		Price:       px(10),
		Quantity:    fixedpoint.NewQuantity(5),
		OrderType:   matching.Limit,
		TimeInForce: matching.GTC,
		ResponseCh:  make(chan OrderResponse, 1),
	})
	require.NoError(t, resp.Err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, uint32(5), resp.Result.RestingQty.Raw())
}

func TestRingBufferFunnelsCancelOrder(t *testing.T) {
	_, seq, _, ex := newTestPipeline(t)
	require.NoError(t, ex.AddFunds(1, px(100000)))

	resp := submitAndWait(t, seq, &OrderRequest{
		Type:        RequestTypeSubmitOrder,
		TraderID:    1,
		Side:        fixedpoint.Buy,
		Price:       px(10),
		Quantity:    fixedpoint.NewQuantity(5),
		OrderType:   matching.Limit,
		TimeInForce: matching.GTC,
		ResponseCh:  make(chan OrderResponse, 1),
	})
	require.NoError(t, resp.Err)
	orderID := resp.Result.OrderID

	cancelResp := submitAndWait(t, seq, &OrderRequest{
		Type:       RequestTypeCancelOrder,
		TraderID:   1,
		OrderID:    orderID,
		ResponseCh: make(chan OrderResponse, 1),
	})
	require.NoError(t, cancelResp.Err)

	_, ok := ex.Engine().GetOrder(orderID)
	assert.False(t, ok)
}

func TestRingBufferFunnelsBanTrader(t *testing.T) {
	_, seq, _, ex := newTestPipeline(t)
	require.NoError(t, ex.AddFunds(1, px(100000)))

	resp := submitAndWait(t, seq, &OrderRequest{
		Type:        RequestTypeSubmitOrder,
		TraderID:    1,
		Side:        fixedpoint.Buy,
		Price:       px(10),
		Quantity:    fixedpoint.NewQuantity(5),
		OrderType:   matching.Limit,
		TimeInForce: matching.GTC,
		ResponseCh:  make(chan OrderResponse, 1),
	})
	require.NoError(t, resp.Err)
	orderID := resp.Result.OrderID

	banResp := submitAndWait(t, seq, &OrderRequest{
		Type:       RequestTypeBanTrader,
		TraderID:   1,
		ResponseCh: make(chan OrderResponse, 1),
	})
	assert.Equal(t, []uint64{orderID}, banResp.CancelledOrderIDs)

	_, ok := ex.Engine().GetOrder(orderID)
	assert.False(t, ok)
}

func TestSequencerBackpressureRecovers(t *testing.T) {
	rb := NewRingBuffer(Config{BufferSize: 2})
	seq := NewSequencer(rb)

	n0, err := seq.Next()
	require.NoError(t, err)
	seq.Publish(n0, &OrderRequest{})
	n1, err := seq.Next()
	require.NoError(t, err)
	seq.Publish(n1, &OrderRequest{})

	// the ring of two is full: the next claim would wrap onto unconsumed slot 0
	_, err = seq.Next()
	assert.ErrorIs(t, err, ErrBufferFull)

	rb.gatingSequence = n0 // simulate the consumer having processed slot 0

	n2, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n2)
}
