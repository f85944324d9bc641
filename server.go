// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsocket

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultMaxConns is the connection limit of a Server with MaxConns unset.
const DefaultMaxConns = 4096

// Server listens for incoming transport connections and creates a Conn for each.
type Server struct {
	Addr           string         // URL to listen on, DefaultListenAddr if empty
	Acceptor       SocketAcceptor // decides on each SETUP and provides the responder
	MaxConns       int            // maximum number of connections to allow
	TLSConfig      *tls.Config    // required for wss and quic
	StatsCollector StatsCollector // also receives statistics (optional)
	listeners      map[Listener]struct{}
	bytesWritten   int64
	bytesRead      int64
	mu             sync.Mutex
	serveErrorsMu  sync.Mutex
	serveErrors    map[string]int
	connLimiter    chan struct{}
	doneChan       chan struct{}
	activeConns    map[*Conn]struct{}
	netLog         bool
}

// Listen announces on the URL rawurl. If the port is zero, srv.Addr is
// updated with the one chosen.
func (srv *Server) Listen(rawurl string) (Listener, error) {
	ln, err := Listen(rawurl, srv.TLSConfig)
	if err == nil {
		if u, perr := ParseURL(rawurl); perr == nil {
			u.Host = ln.Addr().String()
			srv.mu.Lock()
			srv.Addr = u.String()
			srv.mu.Unlock()
		}
	}
	return ln, err
}

func (srv *Server) getListenAddr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.Addr == "" {
		return DefaultListenAddr
	}
	return srv.Addr
}

// ListenAndServe listens on srv.Addr and then calls Serve to handle
// incoming connections. If srv.Addr is blank, DefaultListenAddr is used.
func (srv *Server) ListenAndServe() (err error) {
	listener, err := srv.Listen(srv.getListenAddr())
	if err == nil {
		err = srv.Serve(listener)
	}
	return
}

// Serve accepts incoming connections on the Listener l, creating a
// new service goroutine for each.
func (srv *Server) Serve(l Listener) error {
	defer l.Close()
	var tempDelay time.Duration // how long to sleep on accept failure

	if err := func() error {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		select {
		case <-srv.getDoneChanLocked():
			return errors.WithStack(serverClosedError{})
		default:
		}
		srv.trackListenerLocked(l, true)
		return nil
	}(); err != nil {
		return err
	}
	defer srv.trackListener(l, false)

	srv.serveErrorsMu.Lock()
	srv.serveErrors = make(map[string]int)
	srv.serveErrorsMu.Unlock()
	for {
		rwc, err := l.Accept()
		if err != nil {
			select {
			case <-srv.getDoneChan():
				return errors.WithStack(serverClosedError{})
			default:
			}
			if ne, ok := errors.Cause(err).(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warn().Err(err).Dur("retry", tempDelay).Msg("accept")
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		// wait for active connections to fall to allowed levels
		srv.getConnLimiter() <- struct{}{}
		go srv.serveConn(rwc)
	}
}

func (srv *Server) serveConn(rwc io.ReadWriteCloser) {
	defer func() { <-srv.getConnLimiter() }()
	conn := NewServerConn(rwc, srv.Acceptor)
	conn.StatsCollector = srv
	if !srv.trackConn(conn, true) {
		_ = conn.Close()
		return
	}
	defer srv.trackConn(conn, false)
	if err := conn.Serve(); err != nil {
		log.Debug().Str("conn", conn.String()).Err(err).Msg("serve")
		srv.serveErrorsMu.Lock()
		srv.serveErrors[errors.Cause(err).Error()]++
		srv.serveErrorsMu.Unlock()
	}
}

// NetLog enables or disables debug logging of every frame
// on current and future connections.
func (srv *Server) NetLog(state bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.netLog = state
	for conn := range srv.activeConns {
		conn.NetLog(state)
	}
}

// ServeErrors returns a copy of the serve errors map
func (srv *Server) ServeErrors() map[string]int {
	srv.serveErrorsMu.Lock()
	defer srv.serveErrorsMu.Unlock()
	m := make(map[string]int)
	for k, v := range srv.serveErrors {
		m[k] = v
	}
	return m
}

func (srv *Server) trackListener(ln Listener, add bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.trackListenerLocked(ln, add)
}

func (srv *Server) trackListenerLocked(ln Listener, add bool) {
	if srv.listeners == nil {
		srv.listeners = make(map[Listener]struct{})
	}
	if add {
		// If the *Server is being reused after a previous
		// Close, reset its doneChan:
		if len(srv.listeners) == 0 && len(srv.activeConns) == 0 {
			srv.doneChan = nil
		}
		srv.listeners[ln] = struct{}{}
	} else {
		delete(srv.listeners, ln)
	}
}

// trackConn returns false if conn was to be added to a closed Server.
func (srv *Server) trackConn(conn *Conn, add bool) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.activeConns == nil {
		srv.activeConns = make(map[*Conn]struct{})
	}
	if add {
		select {
		case <-srv.getDoneChanLocked():
			return false
		default:
		}
		conn.NetLog(srv.netLog)
		srv.activeConns[conn] = struct{}{}
	} else {
		delete(srv.activeConns, conn)
	}
	return true
}

func (srv *Server) getDoneChan() <-chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.getDoneChanLocked()
}

func (srv *Server) getDoneChanLocked() chan struct{} {
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
	}
	return srv.doneChan
}

func (srv *Server) closeDoneChanLocked() {
	ch := srv.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (srv *Server) getConnLimiter() chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.connLimiter == nil {
		maxConns := srv.MaxConns
		if maxConns < 1 {
			maxConns = DefaultMaxConns
		}
		srv.connLimiter = make(chan struct{}, maxConns)
	}
	return srv.connLimiter
}

func (srv *Server) closeListenersLocked() error {
	var err error
	for ln := range srv.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(srv.listeners, ln)
	}
	return err
}

// Close immediately closes all listeners and active connections.
func (srv *Server) Close() error {
	srv.mu.Lock()
	srv.closeDoneChanLocked()
	err := srv.closeListenersLocked()
	conns := make([]*Conn, 0, len(srv.activeConns))
	for conn := range srv.activeConns {
		conns = append(conns, conn)
	}
	srv.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	return err
}

// ActiveConns returns the number of active connections.
func (srv *Server) ActiveConns() int {
	return len(srv.getConnLimiter())
}

// AddBytesWritten adds n to the number of bytes written statistic.
func (srv *Server) AddBytesWritten(n int64) {
	atomic.AddInt64(&srv.bytesWritten, n)
	if srv.StatsCollector != nil {
		srv.StatsCollector.AddBytesWritten(n)
	}
}

// BytesWritten returns the current number of bytes written.
func (srv *Server) BytesWritten() int64 {
	return atomic.LoadInt64(&srv.bytesWritten)
}

// AddBytesRead adds n to the number of bytes read statistic.
func (srv *Server) AddBytesRead(n int64) {
	atomic.AddInt64(&srv.bytesRead, n)
	if srv.StatsCollector != nil {
		srv.StatsCollector.AddBytesRead(n)
	}
}

// BytesRead returns the current number of bytes read.
func (srv *Server) BytesRead() int64 {
	return atomic.LoadInt64(&srv.bytesRead)
}

// FrameSent implements FrameCollector.
func (srv *Server) FrameSent(ft FrameType) {
	if fc, ok := srv.StatsCollector.(FrameCollector); ok {
		fc.FrameSent(ft)
	}
}

// FrameReceived implements FrameCollector.
func (srv *Server) FrameReceived(ft FrameType) {
	if fc, ok := srv.StatsCollector.(FrameCollector); ok {
		fc.FrameReceived(ft)
	}
}

// ConnOpened implements ConnCollector.
func (srv *Server) ConnOpened() {
	if cc, ok := srv.StatsCollector.(ConnCollector); ok {
		cc.ConnOpened()
	}
}

// ConnClosed implements ConnCollector.
func (srv *Server) ConnClosed() {
	if cc, ok := srv.StatsCollector.(ConnCollector); ok {
		cc.ConnClosed()
	}
}
