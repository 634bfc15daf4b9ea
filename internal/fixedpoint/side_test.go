package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideFromString(t *testing.T) {
	s, err := SideFromString("BUY")
	require.NoError(t, err)
	assert.Equal(t, Buy, s)

	s, err = SideFromString("sell")
	require.NoError(t, err)
	assert.Equal(t, Sell, s)

	_, err = SideFromString("sideways")
	assert.Error(t, err)
}

func TestSideFromByte(t *testing.T) {
	s, err := SideFromByte(1)
	require.NoError(t, err)
	assert.Equal(t, Buy, s)

	s, err = SideFromByte(2)
	require.NoError(t, err)
	assert.Equal(t, Sell, s)

	_, err = SideFromByte(0)
	assert.Error(t, err)

	_, err = SideFromByte(3)
	assert.Error(t, err)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestSideSign(t *testing.T) {
	assert.Equal(t, int64(1), Buy.Sign())
	assert.Equal(t, int64(-1), Sell.Sign())
}

func TestSideRoundTrip(t *testing.T) {
	for _, s := range []Side{Buy, Sell} {
		decoded, err := SideFromByte(s.AsByte())
		require.NoError(t, err)
		assert.Equal(t, s, decoded)
	}
}
