package exchange

import (
	"encoding/binary"
	"fmt"

	"github.com/nexuscore/exchange/internal/fixedpoint"
)

// Journal payloads are compact, WAL-specific encodings — distinct from the
// internal/wire gateway records, which additionally carry a message header,
// a client order id, and order-type/time-in-force bytes the replay path
// never needs. Order ids are never stored in a NEW_ORDER entry: they are
// re-derived deterministically by the engine's order sequence counter
// during both the hot path and replay, in the same order the entries were
// appended.
const (
	newOrderJournalSize = 17 // u32 trader_id | u8 side | i64 price_raw | u32 qty
	cancelJournalSize   = 12 // u32 trader_id | u64 target_order_id
	addFundsJournalSize = 12 // u32 trader_id | i64 amount_raw
)

func encodeNewOrderJournal(traderID uint64, side fixedpoint.Side, price fixedpoint.Price, qty fixedpoint.Quantity) []byte {
	buf := make([]byte, newOrderJournalSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(traderID))
	buf[4] = side.AsByte()
	binary.LittleEndian.PutUint64(buf[5:13], uint64(price.Raw()))
	binary.LittleEndian.PutUint32(buf[13:17], qty.Raw())
	return buf
}

func decodeNewOrderJournal(payload []byte) (traderID uint64, side fixedpoint.Side, price fixedpoint.Price, qty fixedpoint.Quantity, err error) {
	if len(payload) < newOrderJournalSize {
		return 0, 0, fixedpoint.Price{}, fixedpoint.Quantity{}, fmt.Errorf(
			"exchange: truncated new-order journal entry: got %d bytes, want %d", len(payload), newOrderJournalSize)
	}
	traderID = uint64(binary.LittleEndian.Uint32(payload[0:4]))
	side, err = fixedpoint.SideFromByte(payload[4])
	if err != nil {
		return 0, 0, fixedpoint.Price{}, fixedpoint.Quantity{}, err
	}
	price = fixedpoint.NewPrice(int64(binary.LittleEndian.Uint64(payload[5:13])))
	qty = fixedpoint.NewQuantity(binary.LittleEndian.Uint32(payload[13:17]))
	return traderID, side, price, qty, nil
}

func encodeCancelJournal(traderID, orderID uint64) []byte {
	buf := make([]byte, cancelJournalSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(traderID))
	binary.LittleEndian.PutUint64(buf[4:12], orderID)
	return buf
}

func decodeCancelJournal(payload []byte) (traderID, orderID uint64, err error) {
	if len(payload) < cancelJournalSize {
		return 0, 0, fmt.Errorf(
			"exchange: truncated cancel journal entry: got %d bytes, want %d", len(payload), cancelJournalSize)
	}
	traderID = uint64(binary.LittleEndian.Uint32(payload[0:4]))
	orderID = binary.LittleEndian.Uint64(payload[4:12])
	return traderID, orderID, nil
}

func encodeAddFundsJournal(traderID uint64, amount fixedpoint.Price) []byte {
	buf := make([]byte, addFundsJournalSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(traderID))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(amount.Raw()))
	return buf
}

func decodeAddFundsJournal(payload []byte) (traderID uint64, amount fixedpoint.Price, err error) {
	if len(payload) < addFundsJournalSize {
		return 0, fixedpoint.Price{}, fmt.Errorf(
			"exchange: truncated add-funds journal entry: got %d bytes, want %d", len(payload), addFundsJournalSize)
	}
	traderID = uint64(binary.LittleEndian.Uint32(payload[0:4]))
	amount = fixedpoint.NewPrice(int64(binary.LittleEndian.Uint64(payload[4:12])))
	return traderID, amount, nil
}
