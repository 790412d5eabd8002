package scservo

import (
	"context"
	"testing"

	"github.com/scservo-go/scservo/transport"
	"github.com/stretchr/testify/require"
)

func newSyncWriteTestBus(t *testing.T, mock *transport.Mock) *Bus {
	t.Helper()
	bus, err := NewBus(BusConfig{Transport: mock, BaudRate: 1000000})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestSyncWriteGroupAddRejectsDuplicate(t *testing.T) {
	g := NewSyncWriteGroup(newSyncWriteTestBus(t, &transport.Mock{}), 0x2A, 2)
	require.NoError(t, g.Add(1, []byte{0, 0}))
	require.Error(t, g.Add(1, []byte{1, 1}))
}

func TestSyncWriteGroupAddRejectsOversizePayload(t *testing.T) {
	g := NewSyncWriteGroup(newSyncWriteTestBus(t, &transport.Mock{}), 0x2A, 2)
	require.Error(t, g.Add(1, []byte{0, 0, 0}))
}

func TestSyncWriteGroupChangeRequiresExistingMember(t *testing.T) {
	g := NewSyncWriteGroup(newSyncWriteTestBus(t, &transport.Mock{}), 0x2A, 2)
	require.Error(t, g.Change(1, []byte{0, 0}))
	require.NoError(t, g.Add(1, []byte{0, 0}))
	require.NoError(t, g.Change(1, []byte{9, 9}))
}

func TestSyncWriteGroupOrdersMembersAscendingByID(t *testing.T) {
	mock := &transport.Mock{}
	bus := newSyncWriteTestBus(t, mock)
	g := NewSyncWriteGroup(bus, 0x2A, 1)

	require.NoError(t, g.Add(5, []byte{5}))
	require.NoError(t, g.Add(1, []byte{1}))
	require.NoError(t, g.Add(3, []byte{3}))

	result, err := g.Tx(context.Background())
	require.NoError(t, err)
	require.Equal(t, Success, result)

	// params = [startAddr, dataLen, id1,v1, id3,v3, id5,v5]
	params := mock.WriteData[5 : len(mock.WriteData)-1]
	require.Equal(t, []byte{0x2A, 1, 1, 1, 3, 3, 5, 5}, params)
}

func TestSyncWriteGroupTxEmptyIsNotAvailable(t *testing.T) {
	g := NewSyncWriteGroup(newSyncWriteTestBus(t, &transport.Mock{}), 0x2A, 2)
	result, err := g.Tx(context.Background())
	require.NoError(t, err)
	require.Equal(t, NotAvailable, result)
}

func TestSyncWriteGroupRemoveAndClear(t *testing.T) {
	mock := &transport.Mock{}
	bus := newSyncWriteTestBus(t, mock)
	g := NewSyncWriteGroup(bus, 0x2A, 1)

	require.NoError(t, g.Add(1, []byte{1}))
	require.NoError(t, g.Add(2, []byte{2}))
	g.Remove(1)

	result, err := g.Tx(context.Background())
	require.NoError(t, err)
	require.Equal(t, Success, result)
	params := mock.WriteData[5 : len(mock.WriteData)-1]
	require.Equal(t, []byte{0x2A, 1, 2, 2}, params)

	g.Clear()
	result, err = g.Tx(context.Background())
	require.NoError(t, err)
	require.Equal(t, NotAvailable, result)
}
