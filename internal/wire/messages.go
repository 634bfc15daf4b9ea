// Package wire implements the exchange's packed binary gateway records.
//
// Go has no repr(C,packed) and taking the address of a field inside a
// packed struct is undefined behavior in languages that allow it at all, so
// instead of casting a byte slice onto a struct these types are
// (de)serialized field-by-field with encoding/binary at fixed offsets. The
// offsets mirror the byte layout below exactly, so the wire format is
// identical regardless of how it gets built.
package wire

import (
	"encoding/binary"
	"fmt"
)

// MsgType identifies the payload that follows a MessageHeader on the wire.
// This is the gateway-level namespace; it is distinct from the WAL journal's
// own msg_type byte values used by package sentinel.
type MsgType uint8

const (
	MsgNewOrder        MsgType = 0x01
	MsgOrderCancel     MsgType = 0x02
	MsgExecutionReport MsgType = 0x10
	MsgMarketDataBBO   MsgType = 0x20
	MsgTradeUpdate     MsgType = 0x30
	MsgKillSwitch      MsgType = 0xFF
)

// OrderType distinguishes limit from market orders on the wire.
type OrderType uint8

const (
	OrderTypeLimit  OrderType = 1
	OrderTypeMarket OrderType = 2
)

// TimeInForce is the wire encoding of an order's time-in-force.
type TimeInForce uint8

const (
	TIFGTC TimeInForce = 1
	TIFIOC TimeInForce = 2
	TIFFOK TimeInForce = 3
)

const (
	headerSize      = 8
	newOrderSize    = 36
	orderCancelSize = 20
	tradeUpdateSize = 48
)

// MessageHeader prefixes every wire record: 8 bytes total.
//
//	offset 0: msg_length  uint16
//	offset 2: msg_type    uint8
//	offset 3: version     uint8
//	offset 4: sequence_num uint32
type MessageHeader struct {
	MsgLength    uint16
	MsgType      MsgType
	Version      uint8
	SequenceNum  uint32
}

func init() {
	// Go-idiomatic analogue of the original's compile-time
	// `const _: () = assert!(size_of::<T>() == N)` checks: panic at package
	// init rather than silently drifting if a field is ever added.
	assertSize("MessageHeader", headerSize, 2+1+1+4)
	assertSize("NewOrder", newOrderSize, headerSize+4+8+8+4+1+1+1+1)
	assertSize("OrderCancel", orderCancelSize, headerSize+4+8)
	assertSize("TradeUpdate", tradeUpdateSize, headerSize+8+8+4+4+4+8+4)
}

func assertSize(name string, want, got int) {
	if want != got {
		panic(fmt.Sprintf("wire: %s layout mismatch: want %d got %d", name, want, got))
	}
}

// MarshalBinary writes the header to an 8-byte little-endian buffer.
func (h MessageHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.MsgLength)
	buf[2] = byte(h.MsgType)
	buf[3] = h.Version
	binary.LittleEndian.PutUint32(buf[4:8], h.SequenceNum)
	return buf, nil
}

// UnmarshalBinary decodes a MessageHeader from its 8-byte wire form.
func (h *MessageHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < headerSize {
		return fmt.Errorf("wire: short header: %d bytes", len(buf))
	}
	h.MsgLength = binary.LittleEndian.Uint16(buf[0:2])
	h.MsgType = MsgType(buf[2])
	h.Version = buf[3]
	h.SequenceNum = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

// NewOrder is the gateway's new-order wire record: 36 bytes.
//
//	offset 0:  header           (8)
//	offset 8:  trader_id        uint32 (4)
//	offset 12: client_order_id  uint64 (8)
//	offset 20: price            int64  (8)
//	offset 28: quantity         uint32 (4)
//	offset 32: side             uint8  (1)
//	offset 33: order_type       uint8  (1)
//	offset 34: time_in_force    uint8  (1)
//	offset 35: _padding         uint8  (1)
type NewOrder struct {
	Header        MessageHeader
	TraderID      uint32
	ClientOrderID uint64
	Price         int64
	Quantity      uint32
	Side          uint8
	OrderType     OrderType
	TimeInForce   TimeInForce
}

// MarshalBinary writes the record to its 36-byte wire form.
func (o NewOrder) MarshalBinary() ([]byte, error) {
	buf := make([]byte, newOrderSize)
	hb, _ := o.Header.MarshalBinary()
	copy(buf[0:8], hb)
	binary.LittleEndian.PutUint32(buf[8:12], o.TraderID)
	binary.LittleEndian.PutUint64(buf[12:20], o.ClientOrderID)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(o.Price))
	binary.LittleEndian.PutUint32(buf[28:32], o.Quantity)
	buf[32] = o.Side
	buf[33] = byte(o.OrderType)
	buf[34] = byte(o.TimeInForce)
	buf[35] = 0
	return buf, nil
}

// UnmarshalBinary decodes a NewOrder from its 36-byte wire form.
func (o *NewOrder) UnmarshalBinary(buf []byte) error {
	if len(buf) < newOrderSize {
		return fmt.Errorf("wire: short NewOrder: %d bytes", len(buf))
	}
	if err := o.Header.UnmarshalBinary(buf[0:8]); err != nil {
		return err
	}
	o.TraderID = binary.LittleEndian.Uint32(buf[8:12])
	o.ClientOrderID = binary.LittleEndian.Uint64(buf[12:20])
	o.Price = int64(binary.LittleEndian.Uint64(buf[20:28]))
	o.Quantity = binary.LittleEndian.Uint32(buf[28:32])
	o.Side = buf[32]
	o.OrderType = OrderType(buf[33])
	o.TimeInForce = TimeInForce(buf[34])
	return nil
}

func (o NewOrder) String() string {
	return fmt.Sprintf("NewOrder{trader=%d client_order=%d price=%d qty=%d side=%d type=%d tif=%d}",
		o.TraderID, o.ClientOrderID, o.Price, o.Quantity, o.Side, o.OrderType, o.TimeInForce)
}

// OrderCancel is the gateway's cancel wire record: 20 bytes.
//
//	offset 0:  header          (8)
//	offset 8:  trader_id       uint32 (4)
//	offset 12: target_order_id uint64 (8)
type OrderCancel struct {
	Header        MessageHeader
	TraderID      uint32
	TargetOrderID uint64
}

// MarshalBinary writes the record to its 20-byte wire form.
func (c OrderCancel) MarshalBinary() ([]byte, error) {
	buf := make([]byte, orderCancelSize)
	hb, _ := c.Header.MarshalBinary()
	copy(buf[0:8], hb)
	binary.LittleEndian.PutUint32(buf[8:12], c.TraderID)
	binary.LittleEndian.PutUint64(buf[12:20], c.TargetOrderID)
	return buf, nil
}

// UnmarshalBinary decodes an OrderCancel from its 20-byte wire form.
func (c *OrderCancel) UnmarshalBinary(buf []byte) error {
	if len(buf) < orderCancelSize {
		return fmt.Errorf("wire: short OrderCancel: %d bytes", len(buf))
	}
	if err := c.Header.UnmarshalBinary(buf[0:8]); err != nil {
		return err
	}
	c.TraderID = binary.LittleEndian.Uint32(buf[8:12])
	c.TargetOrderID = binary.LittleEndian.Uint64(buf[12:20])
	return nil
}

// TradeUpdate is the gateway's outbound fill notification: 48 bytes.
//
//	offset 0:  header           (8)
//	offset 8:  trade_id         uint64 (8)
//	offset 16: price            int64  (8)
//	offset 24: quantity         uint32 (4)
//	offset 28: buy_trader_id    uint32 (4)
//	offset 32: sell_trader_id   uint32 (4)
//	offset 36: timestamp_ns     uint64 (8)
//	offset 44: _padding         uint32 (4)
type TradeUpdate struct {
	Header       MessageHeader
	TradeID      uint64
	Price        int64
	Quantity     uint32
	BuyTraderID  uint32
	SellTraderID uint32
	TimestampNs  uint64
}

// MarshalBinary writes the record to its 48-byte wire form.
func (t TradeUpdate) MarshalBinary() ([]byte, error) {
	buf := make([]byte, tradeUpdateSize)
	hb, _ := t.Header.MarshalBinary()
	copy(buf[0:8], hb)
	binary.LittleEndian.PutUint64(buf[8:16], t.TradeID)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(t.Price))
	binary.LittleEndian.PutUint32(buf[24:28], t.Quantity)
	binary.LittleEndian.PutUint32(buf[28:32], t.BuyTraderID)
	binary.LittleEndian.PutUint32(buf[32:36], t.SellTraderID)
	binary.LittleEndian.PutUint64(buf[36:44], t.TimestampNs)
	binary.LittleEndian.PutUint32(buf[44:48], 0)
	return buf, nil
}

// UnmarshalBinary decodes a TradeUpdate from its 48-byte wire form.
func (t *TradeUpdate) UnmarshalBinary(buf []byte) error {
	if len(buf) < tradeUpdateSize {
		return fmt.Errorf("wire: short TradeUpdate: %d bytes", len(buf))
	}
	if err := t.Header.UnmarshalBinary(buf[0:8]); err != nil {
		return err
	}
	t.TradeID = binary.LittleEndian.Uint64(buf[8:16])
	t.Price = int64(binary.LittleEndian.Uint64(buf[16:24]))
	t.Quantity = binary.LittleEndian.Uint32(buf[24:28])
	t.BuyTraderID = binary.LittleEndian.Uint32(buf[28:32])
	t.SellTraderID = binary.LittleEndian.Uint32(buf[32:36])
	t.TimestampNs = binary.LittleEndian.Uint64(buf[36:44])
	return nil
}
