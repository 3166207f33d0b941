package rpcrt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUuidVectorAdd(t *testing.T) {
	v := NewUuidVector()
	assert.Equal(t, 0, v.Len())

	id := uuid.New()
	require.NoError(t, v.Add(id))
	assert.Equal(t, 1, v.Len())

	slice := v.AsSlice()
	require.Len(t, slice, 1)
	assert.Equal(t, id, slice[0])
}

func TestUuidVectorCapacityExceeded(t *testing.T) {
	v := NewUuidVector()
	for i := 0; i < MaxUuidVectorEntries; i++ {
		require.NoError(t, v.Add(uuid.New()))
	}

	err := v.Add(uuid.New())
	require.Error(t, err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CapacityExceeded, rpcErr.Kind)
	assert.Equal(t, MaxUuidVectorEntries, v.Len())
}

func TestUuidVectorAsSliceIsACopy(t *testing.T) {
	v := NewUuidVector()
	require.NoError(t, v.Add(uuid.New()))

	slice := v.AsSlice()
	slice[0] = uuid.Nil

	slice2 := v.AsSlice()
	assert.NotEqual(t, uuid.Nil, slice2[0])
}
