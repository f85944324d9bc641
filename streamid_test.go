package rsocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_StreamIDAllocator_Parity(t *testing.T) {
	client := NewClientStreamIDs()
	server := NewServerStreamIDs()
	seen := make(map[uint32]struct{})
	for i := 0; i < 1000; i++ {
		cid := client.Next(nil)
		sid := server.Next(nil)
		assert.Equal(t, uint32(1), cid%2)
		assert.Equal(t, uint32(0), sid%2)
		assert.NotZero(t, cid)
		assert.NotZero(t, sid)
		seen[cid] = struct{}{}
		seen[sid] = struct{}{}
	}
	assert.Equal(t, 2000, len(seen))
}

func Test_StreamIDAllocator_First(t *testing.T) {
	assert.Equal(t, uint32(1), NewClientStreamIDs().Next(nil))
	assert.Equal(t, uint32(2), NewServerStreamIDs().Next(nil))
}

func Test_StreamIDAllocator_SkipsInUse(t *testing.T) {
	inUse := map[uint32]bool{1: true, 3: true, 7: true}
	sa := NewClientStreamIDs()
	isUsed := func(id uint32) bool { return inUse[id] }
	assert.Equal(t, uint32(5), sa.Next(isUsed))
	assert.Equal(t, uint32(9), sa.Next(isUsed))
}

func Test_StreamIDAllocator_Wraps(t *testing.T) {
	client := NewClientStreamIDs()
	client.lastID = MaxStreamID
	assert.Equal(t, uint32(1), client.Next(nil))

	server := NewServerStreamIDs()
	server.lastID = MaxStreamID - 1
	assert.Equal(t, uint32(2), server.Next(nil))
	assert.Equal(t, uint32(4), server.Next(func(id uint32) bool { return false }))

	client.lastID = MaxStreamID - 2
	assert.Equal(t, uint32(MaxStreamID), client.Next(nil))
	assert.Equal(t, uint32(3), client.Next(func(id uint32) bool { return id == 1 }))
}
