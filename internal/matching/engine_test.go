package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscore/exchange/internal/fixedpoint"
)

func px(v int64) fixedpoint.Price       { return fixedpoint.NewPrice(v * fixedpoint.Scale) }
func qty(v uint32) fixedpoint.Quantity  { return fixedpoint.NewQuantity(v) }

func TestSimpleCross(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Sell, px(100), qty(10), Limit, GTC)
	require.NoError(t, err)

	res, err := e.SubmitOrder(e.NextOrderID(), 2, fixedpoint.Buy, px(100), qty(10), Limit, GTC)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(100)*fixedpoint.Scale, res.Fills[0].Price.Raw())
	assert.Equal(t, uint32(10), res.Fills[0].Quantity.Raw())
	assert.Equal(t, uint32(0), res.RestingQty.Raw())
}

func TestPriceTimePriority(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Sell, px(101), qty(5), Limit, GTC)
	require.NoError(t, err)
	_, err = e.SubmitOrder(e.NextOrderID(), 2, fixedpoint.Sell, px(100), qty(5), Limit, GTC)
	require.NoError(t, err)

	res, err := e.SubmitOrder(e.NextOrderID(), 3, fixedpoint.Buy, px(101), qty(5), Limit, GTC)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, uint64(2), res.Fills[0].MakerTraderID)
	assert.Equal(t, int64(100)*fixedpoint.Scale, res.Fills[0].Price.Raw())
}

func TestFIFOAtALevel(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Sell, px(100), qty(5), Limit, GTC)
	require.NoError(t, err)
	_, err = e.SubmitOrder(e.NextOrderID(), 2, fixedpoint.Sell, px(100), qty(5), Limit, GTC)
	require.NoError(t, err)

	res, err := e.SubmitOrder(e.NextOrderID(), 3, fixedpoint.Buy, px(100), qty(7), Limit, GTC)
	require.NoError(t, err)
	require.Len(t, res.Fills, 2)
	assert.Equal(t, uint64(1), res.Fills[0].MakerTraderID)
	assert.Equal(t, uint32(5), res.Fills[0].Quantity.Raw())
	assert.Equal(t, uint64(2), res.Fills[1].MakerTraderID)
	assert.Equal(t, uint32(2), res.Fills[1].Quantity.Raw())
}

func TestSelfTradePrevention(t *testing.T) {
	e := New(DefaultRiskConfig())
	restID := e.NextOrderID()
	_, err := e.SubmitOrder(restID, 1, fixedpoint.Sell, px(100), qty(5), Limit, GTC)
	require.NoError(t, err)

	res, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Buy, px(100), qty(5), Limit, GTC)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, []uint64{restID}, res.STPCancels)
	assert.Equal(t, uint32(5), res.RestingQty.Raw())

	_, ok := e.GetOrder(restID)
	assert.False(t, ok)
}

func TestFatFingerRejection(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Sell, px(100), qty(1), Limit, GTC)
	require.NoError(t, err)
	_, err = e.SubmitOrder(e.NextOrderID(), 2, fixedpoint.Buy, px(100), qty(1), Limit, GTC)
	require.NoError(t, err)

	_, err = e.SubmitOrder(e.NextOrderID(), 3, fixedpoint.Buy, px(1000), qty(1), Limit, GTC)
	require.Error(t, err)
	var rr RejectReason
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, RejectFatFinger, rr.Code)
	assert.Equal(t, px(1000).Raw(), rr.OrderPrice.Raw())
	assert.Equal(t, px(100).Raw(), rr.ReferencePrice.Raw())
}

func TestPartialFillPriceImprovementAndCancelRemainder(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Sell, px(99), qty(3), Limit, GTC)
	require.NoError(t, err)

	buyID := e.NextOrderID()
	res, err := e.SubmitOrder(buyID, 2, fixedpoint.Buy, px(100), qty(10), Limit, GTC)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(99)*fixedpoint.Scale, res.Fills[0].Price.Raw())
	assert.Equal(t, uint32(7), res.RestingQty.Raw())

	o, ok := e.GetOrder(buyID)
	require.True(t, ok)
	assert.Equal(t, uint32(7), o.Quantity.Raw())

	_, err = e.CancelOrder(buyID)
	require.NoError(t, err)
	_, ok = e.GetOrder(buyID)
	assert.False(t, ok)
}

func TestMaxQuantityRejected(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.MaxQuantity = qty(100)
	e := New(cfg)
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Buy, px(10), qty(101), Limit, GTC)
	var rr RejectReason
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, RejectMaxQuantity, rr.Code)
}

func TestInvalidPriceRejected(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Buy, fixedpoint.NewPrice(0), qty(1), Limit, GTC)
	var rr RejectReason
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, RejectInvalidPrice, rr.Code)
}

func TestFillOrKillRejectedWithoutLiquidity(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Sell, px(100), qty(3), Limit, GTC)
	require.NoError(t, err)

	_, err = e.SubmitOrder(e.NextOrderID(), 2, fixedpoint.Buy, px(100), qty(10), Limit, FOK)
	var rr RejectReason
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, RejectWouldNotFillCompletely, rr.Code)

	_, ok := e.GetOrder(1)
	assert.True(t, ok)
}

func TestIOCCancelsRemainder(t *testing.T) {
	e := New(DefaultRiskConfig())
	_, err := e.SubmitOrder(e.NextOrderID(), 1, fixedpoint.Sell, px(100), qty(3), Limit, GTC)
	require.NoError(t, err)

	ordID := e.NextOrderID()
	res, err := e.SubmitOrder(ordID, 2, fixedpoint.Buy, px(100), qty(10), Limit, IOC)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.RestingQty.Raw())
	_, ok := e.GetOrder(ordID)
	assert.False(t, ok)
}
