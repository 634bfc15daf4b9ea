package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderRoundTrip(t *testing.T) {
	orig := NewOrder{
		Header: MessageHeader{
			MsgLength:   newOrderSize,
			MsgType:     MsgNewOrder,
			Version:     1,
			SequenceNum: 42,
		},
		TraderID:      7,
		ClientOrderID: 123456789,
		Price:         12345000000,
		Quantity:      10,
		Side:          1,
		OrderType:     OrderTypeLimit,
		TimeInForce:   TIFGTC,
	}
	buf, err := orig.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, newOrderSize)

	var decoded NewOrder
	require.NoError(t, decoded.UnmarshalBinary(buf))
	assert.Equal(t, orig, decoded)
}

func TestOrderCancelRoundTrip(t *testing.T) {
	orig := OrderCancel{
		Header: MessageHeader{
			MsgLength:   orderCancelSize,
			MsgType:     MsgOrderCancel,
			Version:     1,
			SequenceNum: 9,
		},
		TraderID:      3,
		TargetOrderID: 99,
	}
	buf, err := orig.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, orderCancelSize)

	var decoded OrderCancel
	require.NoError(t, decoded.UnmarshalBinary(buf))
	assert.Equal(t, orig, decoded)
}

func TestTradeUpdateRoundTrip(t *testing.T) {
	orig := TradeUpdate{
		Header: MessageHeader{
			MsgLength:   tradeUpdateSize,
			MsgType:     MsgTradeUpdate,
			Version:     1,
			SequenceNum: 1,
		},
		TradeID:      555,
		Price:        -500000000,
		Quantity:     4,
		BuyTraderID:  1,
		SellTraderID: 2,
		TimestampNs:  1700000000000000000,
	}
	buf, err := orig.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, tradeUpdateSize)

	var decoded TradeUpdate
	require.NoError(t, decoded.UnmarshalBinary(buf))
	assert.Equal(t, orig, decoded)
}

func TestUnmarshalRejectsShortBuffers(t *testing.T) {
	var o NewOrder
	assert.Error(t, o.UnmarshalBinary(make([]byte, 4)))

	var c OrderCancel
	assert.Error(t, c.UnmarshalBinary(make([]byte, 4)))

	var tu TradeUpdate
	assert.Error(t, tu.UnmarshalBinary(make([]byte, 4)))

	var h MessageHeader
	assert.Error(t, h.UnmarshalBinary(make([]byte, 2)))
}

func TestMessageHeaderRoundTrip(t *testing.T) {
	orig := MessageHeader{MsgLength: 36, MsgType: MsgNewOrder, Version: 1, SequenceNum: 77}
	buf, err := orig.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, headerSize)

	var decoded MessageHeader
	require.NoError(t, decoded.UnmarshalBinary(buf))
	assert.Equal(t, orig, decoded)
}
