package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageInsertReadDelete(t *testing.T) {
	p := New(1)
	id, err := p.Insert([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, SlotID(0), id)

	b, err := p.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	require.NoError(t, p.Delete(id))
	_, err = p.Read(id)
	assert.ErrorIs(t, err, ErrDeleted)
	assert.True(t, p.IsDeleted(id))
}

func TestPageOutOfSpace(t *testing.T) {
	p := New(1)
	big := make([]byte, PageSize)
	_, err := p.Insert(big)
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestPageFreeSpaceInvariant(t *testing.T) {
	p := New(1)
	for i := 0; i < 10; i++ {
		_, err := p.Insert([]byte("abcdef"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int(p.dataStart), pageHeaderLen+slotLen*p.SlotCount())
	}
}

func TestPageToBytesFromBytesRoundTrip(t *testing.T) {
	p := New(7)
	id1, _ := p.Insert([]byte("first"))
	_, _ = p.Insert([]byte("second"))
	require.NoError(t, p.Delete(id1))

	buf := p.ToBytes()
	assert.Len(t, buf, PageSize)

	p2, err := FromBytes(7, buf)
	require.NoError(t, err)
	assert.Equal(t, p.SlotCount(), p2.SlotCount())
	assert.True(t, p2.IsDeleted(id1))

	b, err := p2.Read(SlotID(1))
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
}

func TestFromBytesRejectsMismatchedPageID(t *testing.T) {
	p := New(3)
	buf := p.ToBytes()
	_, err := FromBytes(99, buf)
	assert.Error(t, err)
}

func TestFromBytesRejectsBadMagic(t *testing.T) {
	buf := make([]byte, PageSize)
	_, err := FromBytes(0, buf)
	assert.Error(t, err)
}

func TestLiveRecordsSkipsTombstones(t *testing.T) {
	p := New(1)
	id0, _ := p.Insert([]byte("a"))
	id1, _ := p.Insert([]byte("b"))
	_, _ = p.Insert([]byte("c"))
	require.NoError(t, p.Delete(id1))

	live := p.LiveRecords()
	require.Len(t, live, 2)
	assert.Equal(t, id0, live[0].SlotID)
	assert.Equal(t, "a", string(live[0].Bytes))
	assert.Equal(t, "c", string(live[1].Bytes))
}
