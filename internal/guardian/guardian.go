// Package guardian implements the exchange's two-phase pre-trade risk gate:
// validate-and-lock before an order ever reaches the book, and settle-fill /
// unlock-margin as fills and cancels resolve what was locked.
package guardian

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nexuscore/exchange/internal/fixedpoint"
)

// RejectCode enumerates the gates an order can fail, in the order they run.
type RejectCode int

const (
	RejectBanned RejectCode = iota + 1
	RejectInvalidPrice
	RejectInvalidQuantity
	RejectMaxQuantity
	RejectVolatilityBand
	RejectUnknownAccount
	RejectInsufficientPosition
	RejectInsufficientMargin
)

// GuardianReject is a typed, errors.As-compatible rejection raised by
// ValidateAndLock.
type GuardianReject struct {
	Code      RejectCode
	TraderID  uint64
	Requested uint32
	Max       uint32
}

func (r GuardianReject) Error() string {
	switch r.Code {
	case RejectBanned:
		return fmt.Sprintf("guardian: trader %d is banned", r.TraderID)
	case RejectInvalidPrice:
		return "guardian: invalid price"
	case RejectInvalidQuantity:
		return "guardian: invalid quantity"
	case RejectMaxQuantity:
		return fmt.Sprintf("guardian: quantity %d exceeds max %d", r.Requested, r.Max)
	case RejectVolatilityBand:
		return "guardian: price outside volatility band"
	case RejectUnknownAccount:
		return fmt.Sprintf("guardian: unknown account %d", r.TraderID)
	case RejectInsufficientPosition:
		return fmt.Sprintf("guardian: trader %d would go short without permission", r.TraderID)
	case RejectInsufficientMargin:
		return fmt.Sprintf("guardian: trader %d has insufficient margin", r.TraderID)
	default:
		return "guardian: rejected"
	}
}

// Account is a trader's cash and position ledger. Available+Locked is the
// trader's equity; it only moves by the notional value of fills, never by
// the act of locking/unlocking margin alone.
type Account struct {
	TraderID  uint64
	Available fixedpoint.Price
	Locked    fixedpoint.Price
	Position  int64 // signed lots; negative is short
	Banned    bool
}

// GuardianConfig bounds what ValidateAndLock will accept.
type GuardianConfig struct {
	MaxOrderQty    fixedpoint.Quantity
	MarginRatio    int64 // fraction of notional required as margin, scaled by fixedpoint.Scale (Scale == 100%)
	BandPct        int64 // fraction of reference price, scaled by fixedpoint.Scale
	MinBandAbs     fixedpoint.Price
	AllowShorting  bool
}

// DefaultGuardianConfig requires full notional as margin (no leverage) and a
// 10% volatility band once a reference price exists.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		MaxOrderQty:   fixedpoint.NewQuantity(1_000_000),
		MarginRatio:   fixedpoint.Scale,
		BandPct:       fixedpoint.Scale / 10,
		MinBandAbs:    fixedpoint.NewPrice(0),
		AllowShorting: true,
	}
}

type lockRecord struct {
	traderID      uint64
	side          fixedpoint.Side
	remainingQty  uint32
	marginPerUnit int64
}

// Guardian is the exchange's margin gate: one config, one account ledger,
// one set of in-flight margin locks keyed by order id.
type Guardian struct {
	mu             sync.Mutex
	cfg            GuardianConfig
	accounts       map[uint64]*Account
	locks          map[uint64]*lockRecord
	referencePrice *fixedpoint.Price
	logger         *zap.Logger
}

// New creates a Guardian over an empty account ledger.
func New(cfg GuardianConfig, logger *zap.Logger) *Guardian {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guardian{
		cfg:      cfg,
		accounts: make(map[uint64]*Account),
		locks:    make(map[uint64]*lockRecord),
		logger:   logger,
	}
}

// AddFunds credits (or debits, for a negative amount) a trader's available
// balance, creating the account if it does not yet exist. This is itself a
// journaled operation in the exchange pipeline, not a side channel.
func (g *Guardian) AddFunds(traderID uint64, amount fixedpoint.Price) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acct := g.accountOrCreate(traderID)
	acct.Available = acct.Available.Add(amount)
}

func (g *Guardian) accountOrCreate(traderID uint64) *Account {
	acct, ok := g.accounts[traderID]
	if !ok {
		acct = &Account{TraderID: traderID}
		g.accounts[traderID] = acct
	}
	return acct
}

// Account returns a copy of a trader's current ledger state.
func (g *Guardian) Account(traderID uint64) (Account, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acct, ok := g.accounts[traderID]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}

// BanTrader prevents a trader from submitting any new order.
func (g *Guardian) BanTrader(traderID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accountOrCreate(traderID).Banned = true
}

// UnbanTrader lifts a ban.
func (g *Guardian) UnbanTrader(traderID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if acct, ok := g.accounts[traderID]; ok {
		acct.Banned = false
	}
}

// SetReferencePrice updates the volatility band's center price. It is a
// distinct value from the matching engine's last-trade-price reference —
// the exchange pipeline keeps both in step after every fill, but neither
// package reaches into the other to read it.
func (g *Guardian) SetReferencePrice(p fixedpoint.Price) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := p
	g.referencePrice = &cp
}

// ValidateAndLock runs every pre-trade gate in spec order and, if the order
// passes, locks the margin it requires against the trader's account.
func (g *Guardian) ValidateAndLock(orderID, traderID uint64, side fixedpoint.Side, price fixedpoint.Price, qty fixedpoint.Quantity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, exists := g.accounts[traderID]
	if exists && acct.Banned {
		return GuardianReject{Code: RejectBanned, TraderID: traderID}
	}
	if price.Raw() <= 0 {
		return GuardianReject{Code: RejectInvalidPrice, TraderID: traderID}
	}
	if qty.IsZero() {
		return GuardianReject{Code: RejectInvalidQuantity, TraderID: traderID}
	}
	if qty.Raw() > g.cfg.MaxOrderQty.Raw() {
		return GuardianReject{Code: RejectMaxQuantity, TraderID: traderID, Requested: qty.Raw(), Max: g.cfg.MaxOrderQty.Raw()}
	}
	if g.referencePrice != nil {
		ref := *g.referencePrice
		width := volatilityBandWidth(ref, g.cfg.BandPct, g.cfg.MinBandAbs)
		lo := ref.Sub(width)
		hi := ref.Add(width)
		if price.Cmp(lo) < 0 || price.Cmp(hi) > 0 {
			return GuardianReject{Code: RejectVolatilityBand, TraderID: traderID}
		}
	}
	if !exists {
		return GuardianReject{Code: RejectUnknownAccount, TraderID: traderID}
	}

	if side == fixedpoint.Sell && !g.cfg.AllowShorting {
		if acct.Position < int64(qty.Raw()) {
			return GuardianReject{Code: RejectInsufficientPosition, TraderID: traderID}
		}
	}

	required := requiredMargin(price, qty, g.cfg.MarginRatio)
	if acct.Available.Raw() < required.Raw() {
		return GuardianReject{Code: RejectInsufficientMargin, TraderID: traderID}
	}

	acct.Available = acct.Available.Sub(required)
	acct.Locked = acct.Locked.Add(required)

	marginPerUnit := int64(0)
	if qty.Raw() > 0 {
		marginPerUnit = required.Raw() / int64(qty.Raw())
	}
	g.locks[orderID] = &lockRecord{
		traderID:      traderID,
		side:          side,
		remainingQty:  qty.Raw(),
		marginPerUnit: marginPerUnit,
	}
	return nil
}

// volatilityBandWidth computes W = max(|R| * bandPct / Scale, minBandAbs).
func volatilityBandWidth(ref fixedpoint.Price, bandPct int64, minBandAbs fixedpoint.Price) fixedpoint.Price {
	absRef := ref.Raw()
	if absRef < 0 {
		absRef = -absRef
	}
	width := absRef * bandPct / fixedpoint.Scale
	if width < minBandAbs.Raw() {
		width = minBandAbs.Raw()
	}
	return fixedpoint.NewPrice(width)
}

func requiredMargin(price fixedpoint.Price, qty fixedpoint.Quantity, marginRatio int64) fixedpoint.Price {
	notional := price.Notional(qty)
	// notional * marginRatio overflows int64 for ordinary orders, so the
	// whole-unit part and the sub-unit remainder are scaled separately; the
	// remainder still contributes its exact share instead of truncating to 0.
	whole, frac := notional/fixedpoint.Scale, notional%fixedpoint.Scale
	return fixedpoint.NewPrice(whole*marginRatio + frac*marginRatio/fixedpoint.Scale)
}

// SettleFill moves cash and position between a buyer's and seller's accounts
// for one fill, releasing the proportional share of whatever margin each
// side's order had locked. Equity (Available+Locked) is not conserved per
// account here: it moves by exactly the notional traded, representing the
// value of the position each side acquired or gave up.
func (g *Guardian) SettleFill(buyOrderID, sellOrderID, buyTraderID, sellTraderID uint64, price fixedpoint.Price, qty fixedpoint.Quantity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	notional := fixedpoint.NewPrice(price.Notional(qty))

	buyer := g.accountOrCreate(buyTraderID)
	seller := g.accountOrCreate(sellTraderID)

	g.releaseLock(buyOrderID, qty, buyer)
	g.releaseLock(sellOrderID, qty, seller)

	buyer.Available = buyer.Available.Sub(notional)
	seller.Available = seller.Available.Add(notional)
	buyer.Position += int64(qty.Raw())
	seller.Position -= int64(qty.Raw())
}

func (g *Guardian) releaseLock(orderID uint64, fillQty fixedpoint.Quantity, acct *Account) {
	rec, ok := g.locks[orderID]
	if !ok {
		return
	}
	release := fixedpoint.NewPrice(rec.marginPerUnit * int64(fillQty.Raw()))
	acct.Locked = acct.Locked.Sub(release)
	acct.Available = acct.Available.Add(release)
	if fillQty.Raw() >= rec.remainingQty {
		delete(g.locks, orderID)
	} else {
		rec.remainingQty -= fillQty.Raw()
	}
}

// UnlockMargin releases whatever margin is still locked against an order
// when it is cancelled (in full or for its resting remainder).
func (g *Guardian) UnlockMargin(orderID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.locks[orderID]
	if !ok {
		return
	}
	acct, ok := g.accounts[rec.traderID]
	if !ok {
		delete(g.locks, orderID)
		return
	}
	release := fixedpoint.NewPrice(rec.marginPerUnit * int64(rec.remainingQty))
	acct.Locked = acct.Locked.Sub(release)
	acct.Available = acct.Available.Add(release)
	delete(g.locks, orderID)
}
