package rsocket

// Provides a buffer of allocated but unused ByteCursors for encoding frames.
var cursorPool chan *ByteCursor

// cursorPoolSize is lowered when the race detector is enabled.
var cursorPoolSize = 0x1000

// cursorMaxRetain is the largest buffer capacity kept in the pool.
const cursorMaxRetain = 0x10000

func init() {
	cursorPool = make(chan *ByteCursor, cursorPoolSize)
}

// cursorAlloc returns an empty ByteCursor.
func cursorAlloc() *ByteCursor {
	select {
	case bc := <-cursorPool:
		bc.Reset()
		return bc
	default:
		return NewByteCursor(256)
	}
}

// cursorFree releases a ByteCursor. Oversized buffers are dropped.
func cursorFree(bc *ByteCursor) {
	if bc != nil && cap(bc.buf) <= cursorMaxRetain {
		select {
		case cursorPool <- bc:
		default:
		}
	}
}

// encodePooled encodes f into a pooled ByteCursor.
func encodePooled(f Frame) (*ByteCursor, error) {
	bc := cursorAlloc()
	f.encodeTo(bc)
	if err := checkFrameSize(bc); err != nil {
		cursorFree(bc)
		return nil, err
	}
	return bc, nil
}
