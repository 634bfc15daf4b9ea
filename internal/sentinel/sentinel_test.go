package sentinel

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	s, err := Open(path, 1<<16)
	require.NoError(t, err)
	defer s.Close()

	seq1, err := s.Append(MsgNewOrder, 1, []byte("order-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq1)

	seq2, err := s.Append(MsgOrderCancel, 2, []byte("cancel-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq2)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, MsgNewOrder, entries[0].MsgType)
	assert.Equal(t, []byte("order-1"), entries[0].Payload)
	assert.Equal(t, MsgOrderCancel, entries[1].MsgType)
	assert.Equal(t, []byte("cancel-1"), entries[1].Payload)
}

func TestCapacityExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	s, err := Open(path, headerSize+4)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(MsgNewOrder, 1, []byte("ab"))
	require.NoError(t, err)

	_, err = s.Append(MsgNewOrder, 2, []byte("ab"))
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestRecoveryAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	s, err := Open(path, 1<<16)
	require.NoError(t, err)

	_, err = s.Append(MsgNewOrder, 1, []byte("a"))
	require.NoError(t, err)
	_, err = s.Append(MsgNewOrder, 2, []byte("bb"))
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s2, err := Open(path, 1<<16)
	require.NoError(t, err)
	defer s2.Close()

	entries := s2.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), s2.NextSeq())

	seq3, err := s2.Append(MsgAddFunds, 3, []byte("ccc"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq3)
}

func TestRecoveryStopsOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	s, err := Open(path, 1<<16)
	require.NoError(t, err)

	_, err = s.Append(MsgNewOrder, 1, []byte("a"))
	require.NoError(t, err)
	_, err = s.Append(MsgNewOrder, 2, []byte("bb"))
	require.NoError(t, err)

	// Corrupt the payload byte of the second entry in place.
	corruptOffset := headerSize + 1 + headerSize
	s.data[corruptOffset] ^= 0xFF
	require.NoError(t, s.Close())

	s2, err := Open(path, 1<<16)
	require.NoError(t, err)
	defer s2.Close()

	entries := s2.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), s2.NextSeq())
}
