// Package exchange wires the journal, the guardian, and the matching engine
// into the single pipeline every order flows through: log intent, gate
// margin, match, settle. Nothing else in this module is allowed to call the
// matching engine directly — that invariant is what makes replay from the
// write-ahead log reproduce the exact same book and account state.
package exchange

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nexuscore/exchange/internal/fixedpoint"
	"github.com/nexuscore/exchange/internal/guardian"
	"github.com/nexuscore/exchange/internal/matching"
	"github.com/nexuscore/exchange/internal/sentinel"
)

// Exchange orchestrates one instrument's full pipeline.
type Exchange struct {
	engine    *matching.Engine
	guardian  *guardian.Guardian
	journal   *sentinel.Sentinel
	logger    *zap.Logger
	tsCounter uint64
}

// New wires an already-constructed engine, guardian, and journal together.
func New(engine *matching.Engine, g *guardian.Guardian, journal *sentinel.Sentinel, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{engine: engine, guardian: g, journal: journal, logger: logger}
}

// tick advances the exchange's logical clock. This is the only notion of
// time anywhere in the pipeline: no component ever reads the wall clock, so
// replay from the journal is byte-for-byte deterministic.
func (e *Exchange) tick() uint64 {
	e.tsCounter++
	return e.tsCounter
}

// Engine exposes the matching engine for read-only queries.
func (e *Exchange) Engine() *matching.Engine { return e.engine }

// Guardian exposes the risk ledger for read-only queries.
func (e *Exchange) Guardian() *guardian.Guardian { return e.guardian }

// SubmitOrder logs the order's intent to the journal first, then runs it
// through guardian validation and matching. A rejection from either gate is
// still journaled: the WAL records intent, not outcome, so replaying it will
// reject the entry identically and no reclaim of the journal is needed.
func (e *Exchange) SubmitOrder(traderID uint64, side fixedpoint.Side, price fixedpoint.Price, qty fixedpoint.Quantity, orderType matching.OrderType, tif matching.TimeInForce) (*matching.MatchResult, error) {
	e.tick()
	orderID := e.engine.NextOrderID()

	payload := encodeNewOrderJournal(traderID, side, price, qty)
	if _, jerr := e.journal.Append(sentinel.MsgNewOrder, e.tsCounter, payload); jerr != nil {
		e.logger.Error("journal append failed, halting new submissions", zap.Error(jerr))
		return nil, jerr
	}

	if err := e.guardian.ValidateAndLock(orderID, traderID, side, price, qty); err != nil {
		e.logger.Info("order rejected by guardian",
			zap.Uint64("order_id", orderID), zap.Uint64("trader_id", traderID), zap.Error(err))
		return nil, err
	}

	result, err := e.engine.SubmitOrder(orderID, traderID, side, price, qty, orderType, tif)
	if err != nil {
		e.guardian.UnlockMargin(orderID)
		e.logger.Info("order rejected by matching engine",
			zap.Uint64("order_id", orderID), zap.Uint64("trader_id", traderID), zap.Error(err))
		return nil, err
	}

	e.applyResult(result)

	e.logger.Debug("order accepted",
		zap.Uint64("order_id", orderID), zap.Int("fills", len(result.Fills)), zap.Uint32("resting", result.RestingQty.Raw()))
	return result, nil
}

// CancelOrder removes a resting order owned by traderID, journals the
// cancel, and releases whatever margin was still locked against it.
func (e *Exchange) CancelOrder(traderID, orderID uint64) error {
	o, ok := e.engine.GetOrder(orderID)
	if !ok {
		return fmt.Errorf("exchange: order %d not found", orderID)
	}
	if o.TraderID != traderID {
		return fmt.Errorf("exchange: order %d does not belong to trader %d", orderID, traderID)
	}
	if _, err := e.engine.CancelOrder(orderID); err != nil {
		return err
	}

	payload := encodeCancelJournal(traderID, orderID)
	if _, jerr := e.journal.Append(sentinel.MsgOrderCancel, e.tick(), payload); jerr != nil {
		e.logger.Error("journal append failed on cancel", zap.Error(jerr))
		return jerr
	}

	e.guardian.UnlockMargin(orderID)
	return nil
}

// BanTrader halts a trader's ability to submit new orders and sweeps every
// order they still have resting off both sides of the book, releasing the
// margin each had locked. Operators reach for this as a kill switch once a
// trader is misbehaving; it is not itself journaled as a distinct entry
// since the individual cancels it produces are.
func (e *Exchange) BanTrader(traderID uint64) []uint64 {
	e.guardian.BanTrader(traderID)
	removed := e.engine.Book().CancelAllForTrader(traderID)
	for _, orderID := range removed {
		e.guardian.UnlockMargin(orderID)
		payload := encodeCancelJournal(traderID, orderID)
		if _, jerr := e.journal.Append(sentinel.MsgOrderCancel, e.tick(), payload); jerr != nil {
			e.logger.Error("journal append failed during trader ban sweep", zap.Error(jerr))
		}
	}
	return removed
}

// AddFunds journals and applies a credit (or, for a negative amount, a
// debit) to a trader's available balance. It is ordered in the same journal
// as orders and cancels and replays in strict sequence alongside them.
func (e *Exchange) AddFunds(traderID uint64, amount fixedpoint.Price) error {
	payload := encodeAddFundsJournal(traderID, amount)
	if _, err := e.journal.Append(sentinel.MsgAddFunds, e.tick(), payload); err != nil {
		return err
	}
	e.guardian.AddFunds(traderID, amount)
	return nil
}

// applyResult settles every fill from a MatchResult and releases margin for
// every order self-trade prevention cancelled, moving the guardian's
// volatility-band reference to each fill's price. The matching engine's
// fat-finger reference is a separate field (see DESIGN.md) that the engine
// updates itself inside its crossing loop, from the same fill prices.
func (e *Exchange) applyResult(result *matching.MatchResult) {
	for _, fill := range result.Fills {
		var buyOrderID, sellOrderID, buyTrader, sellTrader uint64
		if fill.TakerSide == fixedpoint.Buy {
			buyOrderID, buyTrader = fill.TakerOrderID, fill.TakerTraderID
			sellOrderID, sellTrader = fill.MakerOrderID, fill.MakerTraderID
		} else {
			buyOrderID, buyTrader = fill.MakerOrderID, fill.MakerTraderID
			sellOrderID, sellTrader = fill.TakerOrderID, fill.TakerTraderID
		}
		e.guardian.SettleFill(buyOrderID, sellOrderID, buyTrader, sellTrader, fill.Price, fill.Quantity)
		e.guardian.SetReferencePrice(fill.Price)
	}
	for _, cancelledID := range result.STPCancels {
		e.guardian.UnlockMargin(cancelledID)
	}
}

// RecoverFromWAL replays every journaled entry from scratch against a fresh
// engine and guardian, reproducing the exact book and account state that
// existed before the restart. It must be called before any new order is
// submitted.
//
// Because the hot path now journals a NEW_ORDER entry before validation, a
// journaled order that was originally rejected by the guardian or the
// matching engine replays to the identical rejection here: that is not a
// corrupt WAL, it is the entry doing exactly what it recorded the first
// time, so replay continues rather than aborting. Only a malformed payload
// or an unknown msg_type stops recovery.
//
// The compact NEW_ORDER format carries no order_type/tif byte (spec's
// 17-byte layout has no room for it), so every replayed order is submitted
// as a resting GTC limit order; order ids are not stored either and are
// re-derived from the engine's order sequence counter, which advances in
// the same deterministic order on both the hot path and replay.
func (e *Exchange) RecoverFromWAL() error {
	entries := e.journal.Entries()

	for _, ent := range entries {
		switch ent.MsgType {
		case sentinel.MsgAddFunds:
			traderID, amount, err := decodeAddFundsJournal(ent.Payload)
			if err != nil {
				return fmt.Errorf("exchange: seq %d: %w", ent.Seq, err)
			}
			e.guardian.AddFunds(traderID, amount)

		case sentinel.MsgNewOrder:
			traderID, side, price, qty, err := decodeNewOrderJournal(ent.Payload)
			if err != nil {
				return fmt.Errorf("exchange: seq %d: %w", ent.Seq, err)
			}
			orderID := e.engine.NextOrderID()

			if err := e.guardian.ValidateAndLock(orderID, traderID, side, price, qty); err != nil {
				continue
			}
			result, err := e.engine.SubmitOrder(orderID, traderID, side, price, qty, matching.Limit, matching.GTC)
			if err != nil {
				e.guardian.UnlockMargin(orderID)
				continue
			}
			e.applyResult(result)

		case sentinel.MsgOrderCancel:
			_, orderID, err := decodeCancelJournal(ent.Payload)
			if err != nil {
				return fmt.Errorf("exchange: seq %d: %w", ent.Seq, err)
			}
			if _, err := e.engine.CancelOrder(orderID); err == nil {
				e.guardian.UnlockMargin(orderID)
			}

		default:
			return fmt.Errorf("exchange: unknown journal msg_type %#x at seq %d", ent.MsgType, ent.Seq)
		}
	}

	return nil
}
