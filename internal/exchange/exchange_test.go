package exchange

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscore/exchange/internal/fixedpoint"
	"github.com/nexuscore/exchange/internal/guardian"
	"github.com/nexuscore/exchange/internal/matching"
	"github.com/nexuscore/exchange/internal/sentinel"
)

func px(v int64) fixedpoint.Price      { return fixedpoint.NewPrice(v * fixedpoint.Scale) }
func qty(v uint32) fixedpoint.Quantity { return fixedpoint.NewQuantity(v) }

func newTestExchange(t *testing.T, journalPath string) *Exchange {
	t.Helper()
	journal, err := sentinel.Open(journalPath, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	engine := matching.New(matching.DefaultRiskConfig())
	g := guardian.New(guardian.DefaultGuardianConfig(), nil)
	return New(engine, g, journal, nil)
}

func TestSubmitOrderRestsWithoutCross(t *testing.T) {
	ex := newTestExchange(t, filepath.Join(t.TempDir(), "journal.bin"))
	require.NoError(t, ex.AddFunds(1, px(100000)))

	res, err := ex.SubmitOrder(1, fixedpoint.Buy, px(10), qty(5), matching.Limit, matching.GTC)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, uint32(5), res.RestingQty.Raw())

	acct, ok := ex.Guardian().Account(1)
	require.True(t, ok)
	assert.Equal(t, px(50).Raw(), acct.Locked.Raw())
}

func TestSubmitOrderRejectedByGuardianStillJournalsIntent(t *testing.T) {
	ex := newTestExchange(t, filepath.Join(t.TempDir(), "journal.bin"))
	// no funds added: unknown account
	_, err := ex.SubmitOrder(1, fixedpoint.Buy, px(10), qty(5), matching.Limit, matching.GTC)
	require.Error(t, err)
	// the WAL records intent, not outcome: the rejected order is still logged
	// so replay can reject it identically without any reclaim.
	assert.Len(t, ex.journal.Entries(), 1)
}

func TestCrossAndSettle(t *testing.T) {
	ex := newTestExchange(t, filepath.Join(t.TempDir(), "journal.bin"))
	require.NoError(t, ex.AddFunds(1, px(100000)))
	require.NoError(t, ex.AddFunds(2, px(100000)))

	_, err := ex.SubmitOrder(1, fixedpoint.Sell, px(100), qty(10), matching.Limit, matching.GTC)
	require.NoError(t, err)

	res, err := ex.SubmitOrder(2, fixedpoint.Buy, px(100), qty(10), matching.Limit, matching.GTC)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)

	sellerAcct, _ := ex.Guardian().Account(1)
	buyerAcct, _ := ex.Guardian().Account(2)
	assert.Equal(t, int64(-10), sellerAcct.Position)
	assert.Equal(t, int64(10), buyerAcct.Position)
	assert.Equal(t, int64(0), buyerAcct.Locked.Raw())
	assert.Equal(t, int64(0), sellerAcct.Locked.Raw())
}

func TestCancelOrderUnlocksMargin(t *testing.T) {
	ex := newTestExchange(t, filepath.Join(t.TempDir(), "journal.bin"))
	require.NoError(t, ex.AddFunds(1, px(100000)))

	res, err := ex.SubmitOrder(1, fixedpoint.Buy, px(10), qty(5), matching.Limit, matching.GTC)
	require.NoError(t, err)

	require.NoError(t, ex.CancelOrder(1, res.OrderID))

	acct, _ := ex.Guardian().Account(1)
	assert.Equal(t, px(100000).Raw(), acct.Available.Raw())
	assert.Equal(t, int64(0), acct.Locked.Raw())

	_, ok := ex.Engine().GetOrder(res.OrderID)
	assert.False(t, ok)
}

func TestCancelOrderRejectsWrongOwner(t *testing.T) {
	ex := newTestExchange(t, filepath.Join(t.TempDir(), "journal.bin"))
	require.NoError(t, ex.AddFunds(1, px(100000)))

	res, err := ex.SubmitOrder(1, fixedpoint.Buy, px(10), qty(5), matching.Limit, matching.GTC)
	require.NoError(t, err)

	err = ex.CancelOrder(2, res.OrderID)
	assert.Error(t, err)
}

func TestBanTraderSweepsRestingOrdersAndUnlocksMargin(t *testing.T) {
	ex := newTestExchange(t, filepath.Join(t.TempDir(), "journal.bin"))
	require.NoError(t, ex.AddFunds(1, px(100000)))

	res, err := ex.SubmitOrder(1, fixedpoint.Buy, px(10), qty(5), matching.Limit, matching.GTC)
	require.NoError(t, err)

	removed := ex.BanTrader(1)
	assert.Equal(t, []uint64{res.OrderID}, removed)

	_, ok := ex.Engine().GetOrder(res.OrderID)
	assert.False(t, ok)

	acct, ok := ex.Guardian().Account(1)
	require.True(t, ok)
	assert.Equal(t, int64(0), acct.Locked.Raw())
	assert.True(t, acct.Banned)

	_, err = ex.SubmitOrder(1, fixedpoint.Buy, px(10), qty(1), matching.Limit, matching.GTC)
	assert.Error(t, err)
}

func TestRecoverFromWALReproducesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")

	func() {
		ex := newTestExchange(t, path)
		require.NoError(t, ex.AddFunds(1, px(100000)))
		require.NoError(t, ex.AddFunds(2, px(100000)))

		_, err := ex.SubmitOrder(1, fixedpoint.Sell, px(100), qty(10), matching.Limit, matching.GTC)
		require.NoError(t, err)

		res, err := ex.SubmitOrder(2, fixedpoint.Buy, px(100), qty(6), matching.Limit, matching.GTC)
		require.NoError(t, err)
		require.Len(t, res.Fills, 1)

		require.NoError(t, ex.CancelOrder(1, 1))
	}()

	journal, err := sentinel.Open(path, 1<<20)
	require.NoError(t, err)
	defer journal.Close()

	engine := matching.New(matching.DefaultRiskConfig())
	g := guardian.New(guardian.DefaultGuardianConfig(), nil)
	ex2 := New(engine, g, journal, nil)
	require.NoError(t, ex2.RecoverFromWAL())

	buyerAcct, ok := ex2.Guardian().Account(2)
	require.True(t, ok)
	assert.Equal(t, int64(6), buyerAcct.Position)

	sellerAcct, ok := ex2.Guardian().Account(1)
	require.True(t, ok)
	assert.Equal(t, int64(-6), sellerAcct.Position)

	_, bidOk := ex2.Engine().Book().BestBid()
	assert.False(t, bidOk)
	_, askOk := ex2.Engine().Book().BestAsk()
	assert.False(t, askOk)

	_, ok = ex2.Engine().GetOrder(1)
	assert.False(t, ok)

	newOrderID := ex2.Engine().NextOrderID()
	assert.Greater(t, newOrderID, uint64(2))
}
