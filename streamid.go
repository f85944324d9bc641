package rsocket

import "sync"

// StreamIDAllocator hands out stream ids for locally initiated streams.
// Clients use odd ids and servers use even ids. Zero is never returned.
type StreamIDAllocator struct {
	mu     sync.Mutex
	seed   int64
	lastID int64
}

// NewClientStreamIDs returns an allocator producing 1, 3, 5...
func NewClientStreamIDs() *StreamIDAllocator {
	return &StreamIDAllocator{seed: -1, lastID: -1}
}

// NewServerStreamIDs returns an allocator producing 2, 4, 6...
func NewServerStreamIDs() *StreamIDAllocator {
	return &StreamIDAllocator{seed: 0, lastID: 0}
}

// Next returns the next id for which inUse returns false.
// It wraps to the start once MaxStreamID is passed. If every id of
// the right parity is in use, Next does not return.
func (sa *StreamIDAllocator) Next(inUse func(id uint32) bool) uint32 {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	for {
		sa.lastID += 2
		if sa.lastID > MaxStreamID {
			sa.lastID = sa.seed + 2
		}
		id := uint32(sa.lastID)
		if id != 0 && (inUse == nil || !inUse(id)) {
			return id
		}
	}
}
