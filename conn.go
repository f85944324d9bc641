// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsocket

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type connRole byte

const (
	roleClient connRole = iota
	roleServer
)

func (r connRole) String() string {
	if r == roleServer {
		return "server"
	}
	return "client"
}

// sender is the local end of a stream we initiated.
type sender struct {
	sub  rx.Subscriber[Payload]
	stop func() bool // releases the context watch, may be nil
}

// Conn is one end of an RSocket connection over a single
// io.ReadWriteCloser. It multiplexes concurrent streams, acting as
// requester for the streams it starts and as responder for the
// streams the peer starts.
type Conn struct {
	io.ReadWriteCloser                  // The I/O endpoint
	StatsCollector                      // Where to report statistics (optional)
	ErrorConsumer      func(err *Error) // Receives stream 0 errors (optional)
	role               connRole
	setup              SetupPayload
	acceptor           SocketAcceptor
	ids                *StreamIDAllocator
	writeCh            chan *ByteCursor
	writerDone         chan struct{}
	writerOnce         sync.Once
	doneChan           chan struct{}
	ctx                context.Context
	cancel             context.CancelFunc
	mu                 sync.Mutex
	responder          RSocket
	setupDone          bool
	senders            map[uint32]*sender
	receivers          map[uint32]*rx.QueueProcessor[Payload]
	cancels            map[uint32]context.CancelFunc
	lastRecv           atomic.Int64 // Unix nanoseconds
	serialNumber       uint32
	netLog             atomic.Bool
}

var connNextSerialNumber uint32

func newConn(rwc io.ReadWriteCloser, role connRole) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ReadWriteCloser: rwc,
		role:            role,
		writeCh:         make(chan *ByteCursor),
		writerDone:      make(chan struct{}),
		doneChan:        make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		senders:         make(map[uint32]*sender),
		receivers:       make(map[uint32]*rx.QueueProcessor[Payload]),
		cancels:         make(map[uint32]context.CancelFunc),
		serialNumber:    atomic.AddUint32(&connNextSerialNumber, 1),
	}
	if role == roleClient {
		c.ids = NewClientStreamIDs()
	} else {
		c.ids = NewServerStreamIDs()
	}
	c.lastRecv.Store(time.Now().UnixNano())
	return c
}

// NewClientConn returns a Conn that will announce setup to the peer
// once sendSetup is called. It uses odd stream ids.
func NewClientConn(rwc io.ReadWriteCloser, setup SetupPayload) *Conn {
	c := newConn(rwc, roleClient)
	c.setup = setup
	c.setupDone = true
	return c
}

// NewServerConn returns a Conn that waits for the peer's SETUP frame
// and passes it to acceptor. It uses even stream ids.
func NewServerConn(rwc io.ReadWriteCloser, acceptor SocketAcceptor) *Conn {
	c := newConn(rwc, roleServer)
	c.acceptor = acceptor
	return c
}

func (c *Conn) String() string {
	return fmt.Sprintf("[Conn %x %v]", c.serialNumber, c.role)
}

// Setup returns the session parameters. For a server Conn they are
// only known after the SETUP frame has been received.
func (c *Conn) Setup() SetupPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setup
}

// SetResponder sets the RSocket that answers requests from the peer.
func (c *Conn) SetResponder(rs RSocket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = rs
}

func (c *Conn) getResponder() RSocket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responder
}

// NetLog enables or disables debug logging of every frame.
func (c *Conn) NetLog(state bool) {
	c.netLog.Store(state)
}

// netDebug returns a debug event for c, or nil unless NetLog is enabled.
func (c *Conn) netDebug() *zerolog.Event {
	if c.netLog.Load() {
		return log.Debug().Str("conn", c.String())
	}
	return nil
}

func (c *Conn) logFrame(dir string, f Frame) {
	if ev := c.netDebug(); ev != nil {
		ev.Str("frame", frameString(f)).Msg(dir)
	}
}

// Availability returns 1 while the Conn is usable and 0 once closed.
func (c *Conn) Availability() float64 {
	if c.isClosed() {
		return 0
	}
	return 1
}

// Done returns a channel that is closed when the Conn closes.
func (c *Conn) Done() <-chan struct{} {
	return c.doneChan
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.doneChan:
		return true
	default:
		return false
	}
}

// ReadFrom implements io.ReaderFrom. Frames are read from r and
// dispatched until r fails or a fatal protocol error occurs.
func (c *Conn) ReadFrom(r io.Reader) (n int64, err error) {
	fc, hasFrameCollector := c.StatsCollector.(FrameCollector)
	for {
		var b []byte
		if b, err = ReadFrame(r); err != nil {
			if c.isClosed() {
				err = errors.WithStack(serverClosedError{})
			} else if errors.Cause(err) == (ProtocolError{}) {
				c.closeWithError(ErrorCodeConnectionError, err.Error())
			}
			return
		}
		n += int64(len(b))
		if c.StatsCollector != nil {
			c.StatsCollector.AddBytesRead(int64(len(b)))
		}
		c.lastRecv.Store(time.Now().UnixNano())

		var f Frame
		if f, err = NewFrameParser(b).Next(); err != nil {
			if err == io.EOF {
				// unknown frame type
				err = nil
				continue
			}
			c.closeWithError(ErrorCodeConnectionError, err.Error())
			return
		}
		if hasFrameCollector {
			fc.FrameReceived(f.Header().Type)
		}
		c.logFrame("READ", f)
		if err = c.receiveFrame(f); err != nil {
			if errors.Cause(err) == (ProtocolError{}) {
				c.closeWithError(ErrorCodeConnectionError, err.Error())
			}
			return
		}
	}
}

type flusher interface {
	Flush() error
}

// WriteTo implements io.WriterTo. Frames arriving on the write channel
// are buffered and written to w until a nil frame is received, the
// Conn closes or an error occurs.
func (c *Conn) WriteTo(w io.Writer) (n int64, err error) {
	var unreported int64
	var written int
	f, hasFlusher := w.(flusher)
	hasCollector := c.StatsCollector != nil
	defer c.writerOnce.Do(func() { close(c.writerDone) })

	for err == nil {
		var bc *ByteCursor
		var ok bool

		select {
		case <-c.doneChan:
			return n, errors.WithStack(serverClosedError{})
		case bc = <-c.writeCh:
			ok = true
		default:
			// nothing immediately available, flush the output
			if hasFlusher {
				err = f.Flush()
				if err == nil && hasCollector && unreported > 0 {
					c.StatsCollector.AddBytesWritten(unreported)
					unreported = 0
				}
			}
		}

		if err == nil {
			if !ok {
				select {
				case bc = <-c.writeCh:
				case <-c.doneChan:
					err = errors.WithStack(serverClosedError{})
				}
			}
			if bc == nil {
				// end of output requested by closeWithError
				break
			}
			written, err = w.Write(bc.Bytes())
			n += int64(written)
			cursorFree(bc)
			if hasCollector {
				unreported += int64(written)
				if unreported > FrameMaxLength {
					c.StatsCollector.AddBytesWritten(unreported)
					unreported = 0
				}
			}
		}
	}

	if hasFlusher {
		if flusherr := f.Flush(); err == nil {
			err = flusherr
		}
	}
	if hasCollector && unreported > 0 {
		c.StatsCollector.AddBytesWritten(unreported)
	}
	return
}

// Serve processes incoming and outgoing frames for the Conn until closed.
func (c *Conn) Serve() (err error) {
	if cc, ok := c.StatsCollector.(ConnCollector); ok {
		cc.ConnOpened()
		defer cc.ConnClosed()
	}

	errCh := make(chan error, 2)
	defer close(errCh)

	go func() {
		_, err := c.ReadFrom(bufio.NewReaderSize(c.ReadWriteCloser, 64*1024))
		errCh <- err
	}()
	go func() {
		_, err := c.WriteTo(bufio.NewWriterSize(c.ReadWriteCloser, 64*1024))
		errCh <- err
	}()
	err = <-errCh

	if !c.isClosed() {
		if closeErr := c.Close(); closeErr != nil && (err == nil || isClosedError(err)) {
			err = closeErr
		}
	}

	if otherErr := <-errCh; otherErr != nil && (err == nil || isClosedError(err)) {
		err = otherErr
	}

	if isClosedError(err) {
		err = nil
	}
	return err
}

// writeFrame queues f for writing.
func (c *Conn) writeFrame(f Frame) error {
	return c.writeFrameCtx(nil, f)
}

// writeFrameCtx queues f for writing, giving up if ctx is done.
// A nil ctx never is.
func (c *Conn) writeFrameCtx(ctx context.Context, f Frame) error {
	var ctxDone <-chan struct{}
	if ctx != nil {
		ctxDone = ctx.Done()
	}
	bc, err := encodePooled(f)
	if err != nil {
		return err
	}
	select {
	case c.writeCh <- bc:
		if fc, ok := c.StatsCollector.(FrameCollector); ok {
			fc.FrameSent(f.Header().Type)
		}
		c.logFrame("WRIT", f)
		return nil
	case <-ctxDone:
		cursorFree(bc)
		return ctx.Err()
	case <-c.doneChan:
		cursorFree(bc)
		return errors.WithStack(serverClosedError{})
	}
}

// closeWithError sends a connection level ERROR frame and waits for the
// writer to flush it and stop. Serve then closes the Conn.
func (c *Conn) closeWithError(code ErrorCode, msg string) {
	c.netDebug().Stringer("code", code).Str("msg", msg).Msg("closing")
	if c.writeFrame(NewErrorFrame(0, code, msg)) == nil {
		select {
		case c.writeCh <- nil:
			select {
			case <-c.writerDone:
			case <-c.doneChan:
			}
		case <-c.doneChan:
		}
	}
}

// returns true if doneChan was closed now, false if already closed
func (c *Conn) closeDoneChanLocked() bool {
	select {
	case <-c.doneChan:
		return false
	default:
		close(c.doneChan)
		return true
	}
}

// Close closes the Conn immediately. Requests waiting for a response
// fail with CONNECTION_CLOSE and streams being answered are cancelled.
func (c *Conn) Close() (err error) {
	c.mu.Lock()
	if !c.closeDoneChanLocked() {
		c.mu.Unlock()
		return
	}
	senders := c.senders
	receivers := c.receivers
	cancels := c.cancels
	c.senders = make(map[uint32]*sender)
	c.receivers = make(map[uint32]*rx.QueueProcessor[Payload])
	c.cancels = make(map[uint32]context.CancelFunc)
	c.mu.Unlock()

	err = c.ReadWriteCloser.Close()
	c.cancel()

	closeErr := NewError(ErrorCodeConnectionClose, "connection closed")
	for _, s := range senders {
		if s.stop != nil {
			s.stop()
		}
		s.sub.OnError(closeErr)
	}
	for _, p := range receivers {
		p.OnError(closeErr)
	}
	for _, cancel := range cancels {
		cancel()
	}
	if isClosedError(err) {
		err = nil
	}
	return
}

// checkLifetime closes the Conn if nothing is received for the
// max lifetime announced in SETUP.
func (c *Conn) checkLifetime() {
	lifetime := c.Setup().MaxLifetime
	if lifetime <= 0 {
		lifetime = DefaultMaxLifetime
	}
	ticker := time.NewTicker(lifetime / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.doneChan:
			return
		case now := <-ticker.C:
			if now.Sub(time.Unix(0, c.lastRecv.Load())) > lifetime {
				log.Warn().Str("conn", c.String()).Dur("lifetime", lifetime).Msg("keepalive timeout")
				c.closeWithError(ErrorCodeConnectionError, "keepalive timeout")
				return
			}
		}
	}
}

// sendSetup writes the SETUP frame and starts sending KEEPALIVE frames.
func (c *Conn) sendSetup() error {
	if err := c.writeFrame(c.setup.Frame()); err != nil {
		return err
	}
	interval := c.setup.KeepAlive
	if interval <= 0 {
		interval = DefaultKeepAlive
	}
	go c.keepAlive(interval)
	return nil
}

func (c *Conn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.doneChan:
			return
		case <-ticker.C:
			if err := c.writeFrame(NewKeepAliveFrame(false, 0)); err != nil {
				return
			}
		}
	}
}

// nextStreamIDLocked allocates an id not used by any live stream.
func (c *Conn) nextStreamIDLocked() uint32 {
	return c.ids.Next(func(id uint32) bool {
		if _, ok := c.senders[id]; ok {
			return true
		}
		_, ok := c.cancels[id]
		return ok
	})
}

// addSender registers s under a new stream id.
func (c *Conn) addSender(s *sender) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return 0, errors.WithStack(serverClosedError{})
	}
	sid := c.nextStreamIDLocked()
	c.senders[sid] = s
	return sid, nil
}

// removeSender returns the sender for sid if it was still registered.
func (c *Conn) removeSender(sid uint32) *sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.senders[sid]
	delete(c.senders, sid)
	if s != nil && s.stop != nil {
		s.stop()
	}
	return s
}

func (c *Conn) getSender(sid uint32) *sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders[sid]
}

// streamContext returns a context for work done on behalf of sid,
// cancelled when the peer sends CANCEL or the Conn closes.
func (c *Conn) streamContext(sid uint32) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return nil, errors.WithStack(serverClosedError{})
	}
	if _, ok := c.cancels[sid]; ok {
		return nil, errors.Wrapf(ProtocolError{}, "stream %d already active", sid)
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancels[sid] = cancel
	return ctx, nil
}

// releaseStream cancels and forgets the context for sid.
func (c *Conn) releaseStream(sid uint32) {
	c.mu.Lock()
	cancel := c.cancels[sid]
	delete(c.cancels, sid)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Conn) removeReceiver(sid uint32) *rx.QueueProcessor[Payload] {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.receivers[sid]
	delete(c.receivers, sid)
	return p
}

// receiveFrame dispatches a frame read from the peer.
func (c *Conn) receiveFrame(f Frame) error {
	if c.role == roleServer {
		c.mu.Lock()
		setupDone := c.setupDone
		c.mu.Unlock()
		if !setupDone {
			sf, ok := f.(*SetupFrame)
			if !ok {
				c.closeWithError(ErrorCodeInvalidSetup, fmt.Sprintf("expected SETUP, got %v", f.Header().Type))
				return errors.WithStack(serverClosedError{})
			}
			return c.receiveSetup(sf)
		}
	}

	switch f := f.(type) {
	case *SetupFrame:
		return errors.Wrapf(ProtocolError{}, "unexpected %v", f.Header())
	case *KeepAliveFrame:
		if f.Respond() {
			return c.writeFrame(NewKeepAliveFrame(false, f.LastPosition))
		}
	case *LeaseFrame:
		c.netDebug().Uint32("ttl", f.TimeToLive).Uint32("requests", f.NumberOfRequests).Msg("lease ignored")
	case *ErrorFrame:
		c.receiveError(f)
	case *PayloadFrame:
		c.receivePayload(f)
	case *CancelFrame:
		if p := c.removeReceiver(f.StreamID); p != nil {
			p.OnError(errStreamCancelled)
		}
		c.releaseStream(f.StreamID)
	case *RequestNFrame:
		c.netDebug().Uint32("stream", f.StreamID).Uint32("n", f.RequestN).Msg("request-n")
	case *MetadataPushFrame:
		c.serveMetadataPush(f)
	case *RequestFNFFrame:
		c.serveFireAndForget(f)
	case *RequestResponseFrame:
		return c.serveRequestResponse(f)
	case *RequestStreamFrame:
		return c.serveRequestStream(f)
	case *RequestChannelFrame:
		return c.serveRequestChannel(f)
	}
	return nil
}

func (c *Conn) receiveSetup(f *SetupFrame) error {
	setup := SetupPayloadFromFrame(f)
	if setup.Version.Major != MajorVersion {
		c.closeWithError(ErrorCodeUnsupportedSetup, fmt.Sprintf("unsupported version %v", setup.Version))
		return errors.WithStack(serverClosedError{})
	}
	if f.Resume() {
		c.closeWithError(ErrorCodeUnsupportedSetup, "resume not supported")
		return errors.WithStack(serverClosedError{})
	}

	c.mu.Lock()
	c.setup = setup
	c.setupDone = true
	acceptor := c.acceptor
	c.mu.Unlock()

	var rs RSocket
	var err error
	if acceptor != nil {
		rs, err = acceptor.Accept(setup, c)
	}
	if err != nil || rs == nil {
		msg := ErrConnectionRefused.Message
		if err != nil {
			msg = ToError(err).Message
		}
		c.closeWithError(ErrorCodeRejectedSetup, msg)
		return errors.WithStack(serverClosedError{})
	}
	c.SetResponder(rs)
	go c.checkLifetime()
	if ev := c.netDebug(); ev.Enabled() {
		ev.Stringer("version", setup.Version).
			Dur("keepalive", setup.KeepAlive).
			Dur("lifetime", setup.MaxLifetime).
			Str("data", setup.DataMimeType).
			Str("metadata", setup.MetadataMimeType).
			Msg("accepted")
	}
	return nil
}

func (c *Conn) receiveError(f *ErrorFrame) {
	if f.StreamID == 0 {
		if c.ErrorConsumer != nil {
			c.ErrorConsumer(f.Err())
		} else {
			log.Info().Str("conn", c.String()).Stringer("code", f.Code).Str("msg", f.Message).Msg("connection error")
		}
		return
	}
	if s := c.removeSender(f.StreamID); s != nil {
		s.sub.OnError(f.Err())
	}
	if p := c.removeReceiver(f.StreamID); p != nil {
		p.OnError(f.Err())
	}
	c.releaseStream(f.StreamID)
}

func (c *Conn) receivePayload(f *PayloadFrame) {
	hasValue := f.Next() || f.Payload.HasData() || f.Payload.HasMetadata()
	if s := c.getSender(f.StreamID); s != nil {
		if f.Complete() {
			c.removeSender(f.StreamID)
		}
		if hasValue {
			s.sub.OnNext(f.Payload)
		}
		if f.Complete() {
			s.sub.OnComplete()
		}
		return
	}
	c.mu.Lock()
	p := c.receivers[f.StreamID]
	c.mu.Unlock()
	if p != nil {
		if f.Complete() {
			c.removeReceiver(f.StreamID)
		}
		if hasValue {
			p.OnNext(f.Payload)
		}
		if f.Complete() {
			p.OnComplete()
		}
		return
	}
	c.netDebug().Uint32("stream", f.StreamID).Msg("payload for unknown stream")
}
