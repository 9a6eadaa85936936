package kms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChangeGroupsByObject(t *testing.T) {
	ch := &Change{}
	ch.Set(PlaneID(31), PropertyID(1), 100)
	ch.Set(CrtcID(40), PropertyID(2), 200)
	ch.Set(PlaneID(31), PropertyID(3), 300)

	objs, counts, props, values := ch.arrays()
	require.Equal(t, []uint32{31, 40}, objs)
	require.Equal(t, []uint32{2, 1}, counts)
	require.Equal(t, []uint32{1, 3, 2}, props)
	require.Equal(t, []uint64{100, 300, 200}, values)
	require.Equal(t, 3, ch.Len())
}

func TestChangeReplacesDuplicateProp(t *testing.T) {
	ch := &Change{}
	ch.Set(CrtcID(40), PropertyID(2), 1)
	ch.Set(CrtcID(40), PropertyID(2), 7)

	require.Equal(t, 1, ch.Len())
	v, ok := ch.Value(CrtcID(40), PropertyID(2))
	require.True(t, ok)
	require.Equal(t, uint64(7), v)
}

func TestChangeDropsUnknownProperty(t *testing.T) {
	ch := &Change{}
	ch.Set(ConnectorID(5), PropertyNone, 1)
	require.True(t, ch.Empty())
}

func TestChangeEachOrder(t *testing.T) {
	ch := &Change{}
	ch.Set(PlaneID(1), PropertyID(10), 0)
	ch.Set(PlaneID(2), PropertyID(11), 0)
	ch.Set(PlaneID(1), PropertyID(12), 0)

	var order []uint32
	ch.Each(func(obj uint32, prop PropertyID, value uint64) {
		order = append(order, obj)
	})
	require.Equal(t, []uint32{1, 1, 2}, order)
}
