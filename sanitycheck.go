// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package rsocket

// sanity check the configuration
func init() {
	if FrameHeaderSize != FrameLengthSize+6 {
		panic("FrameHeaderSize != FrameLengthSize+6")
	}
	if MaxStreamID != 0x7FFFFFFF {
		panic("MaxStreamID != 0x7FFFFFFF")
	}
	if MaxRequestN > MaxStreamID {
		panic("MaxRequestN > MaxStreamID")
	}
	if cursorPoolSize < 1 {
		panic("cursorPoolSize < 1")
	}
	if DefaultKeepAlive >= DefaultMaxLifetime {
		panic("DefaultKeepAlive >= DefaultMaxLifetime")
	}
	for ft, text := range frameTypeTexts {
		if byte(ft) > 0x3F || text == "" {
			panic("invalid frame type table")
		}
	}
}
