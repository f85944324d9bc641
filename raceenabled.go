// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package rsocket

func init() {
	// keep the pool small so the race detector sees buffer reuse
	cursorPoolSize = 16
	cursorPool = make(chan *ByteCursor, cursorPoolSize)
}
