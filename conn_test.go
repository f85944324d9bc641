package rsocket

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

const leaktestEnabled = true

type rwcPipe struct {
	io.ReadCloser
	io.WriteCloser
	bytesWritten int64
	bytesRead    int64
}

func (rwcp *rwcPipe) Close() error {
	if err := rwcp.WriteCloser.Close(); err != nil {
		return err
	}
	return rwcp.ReadCloser.Close()
}

func (rwcp *rwcPipe) AddBytesWritten(n int64) {
	atomic.AddInt64(&rwcp.bytesWritten, n)
}

func (rwcp *rwcPipe) AddBytesRead(n int64) {
	atomic.AddInt64(&rwcp.bytesRead, n)
}

func newRwcPipes() (a, b *rwcPipe) {
	ra, wa := io.Pipe()
	rb, wb := io.Pipe()
	a = &rwcPipe{
		ReadCloser:  rb,
		WriteCloser: wa,
	}
	b = &rwcPipe{
		ReadCloser:  ra,
		WriteCloser: wb,
	}
	return
}

type connTester struct {
	t          *testing.T
	a, b       *rwcPipe
	client     *Conn
	server     *Conn
	clientDone chan error
	serverDone chan error
}

func serveConn(c *Conn) chan error {
	done := make(chan error, 1)
	go func() { done <- c.Serve() }()
	return done
}

func newConnTester(t *testing.T, acceptor SocketAcceptor) *connTester {
	ct := &connTester{t: t}
	ct.a, ct.b = newRwcPipes()
	ct.server = NewServerConn(ct.b, acceptor)
	ct.server.StatsCollector = ct.b
	ct.client = NewClientConn(ct.a, NewSetupPayload())
	ct.client.StatsCollector = ct.a
	ct.serverDone = serveConn(ct.server)
	ct.clientDone = serveConn(ct.client)
	assert.NoError(t, ct.client.sendSetup())
	return ct
}

func (ct *connTester) Close() {
	assert.NoError(ct.t, ct.client.Close())
	assert.NoError(ct.t, <-ct.clientDone)
	<-ct.serverDone
	assert.Zero(ct.t, ct.server.Availability())
}

func upper(in rx.Publisher[Payload]) rx.Publisher[Payload] {
	return rx.PublisherFunc[Payload](func(s rx.Subscriber[Payload]) {
		in.Subscribe(rx.Funcs[Payload]{
			Subscribe: s.OnSubscribe,
			Next:      func(p Payload) { s.OnNext(PayloadFromText(strings.ToUpper(p.DataUTF8()), "")) },
			Error:     s.OnError,
			Complete:  s.OnComplete,
		})
	})
}

type testResponder struct {
	UnimplementedRSocket
	fnfCh  chan Payload
	pushCh chan Payload
}

func newTestResponder() *testResponder {
	return &testResponder{
		fnfCh:  make(chan Payload, 1),
		pushCh: make(chan Payload, 1),
	}
}

func (tr *testResponder) FireAndForget(ctx context.Context, p Payload) error {
	tr.fnfCh <- p
	return nil
}

func (tr *testResponder) MetadataPush(ctx context.Context, p Payload) error {
	tr.pushCh <- p
	return nil
}

func (tr *testResponder) RequestResponse(ctx context.Context, p Payload) (Payload, error) {
	if p.DataUTF8() == "fail" {
		return Payload{}, errors.New("boom")
	}
	return PayloadFromText("echo "+p.DataUTF8(), p.MetadataUTF8()), nil
}

func (tr *testResponder) RequestStream(ctx context.Context, p Payload) rx.Publisher[Payload] {
	return rx.Just(PayloadFromText("a", ""), PayloadFromText("b", ""), PayloadFromText("c", ""))
}

func (tr *testResponder) RequestChannel(ctx context.Context, in rx.Publisher[Payload]) rx.Publisher[Payload] {
	return upper(in)
}

func dataOf(ps []Payload) (ss []string) {
	for _, p := range ps {
		ss = append(ss, p.DataUTF8())
	}
	return
}

func Test_Conn_RequestResponse(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(newTestResponder()))
	defer ct.Close()

	p, err := ct.client.RequestResponse(context.Background(), PayloadFromText("hello", "meta"))
	assert.NoError(t, err)
	assert.Equal(t, "echo hello", p.DataUTF8())
	assert.Equal(t, "meta", p.MetadataUTF8())

	for i := 0; i < 10; i++ {
		p, err = ct.client.RequestResponse(context.Background(), PayloadFromText("x", ""))
		assert.NoError(t, err)
		assert.Equal(t, "echo x", p.DataUTF8())
		assert.False(t, p.HasMetadata())
	}
}

func Test_Conn_RequestResponse_Error(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(newTestResponder()))
	defer ct.Close()

	_, err := ct.client.RequestResponse(context.Background(), PayloadFromText("fail", ""))
	assert.Equal(t, NewError(ErrorCodeApplicationError, "boom"), err)
	assert.Equal(t, "RSOCKET-0x00000201: boom", err.Error())
}

func Test_Conn_RequestResponse_Empty(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(ForRequestResponse(func(context.Context, Payload) (Payload, error) {
		return Payload{}, nil
	})))
	defer ct.Close()

	p, err := ct.client.RequestResponse(context.Background(), PayloadFromText("x", ""))
	assert.NoError(t, err)
	assert.False(t, p.HasData())
	assert.False(t, p.HasMetadata())
}

func Test_Conn_RequestResponse_Panic(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(ForRequestResponse(func(context.Context, Payload) (Payload, error) {
		panic("oops")
	})))
	defer ct.Close()

	_, err := ct.client.RequestResponse(context.Background(), PayloadFromText("x", ""))
	assert.Equal(t, NewError(ErrorCodeApplicationError, "oops"), err)
}

func Test_Conn_RequestResponse_NotImplemented(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(UnimplementedRSocket{}))
	defer ct.Close()

	_, err := ct.client.RequestResponse(context.Background(), PayloadFromText("x", ""))
	assert.Equal(t, ErrNotImplemented, err)
	_, err = rx.Collect(context.Background(), ct.client.RequestStream(context.Background(), Payload{}))
	assert.Equal(t, ErrNotImplemented, err)
}

func Test_Conn_RequestStream(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(newTestResponder()))
	defer ct.Close()

	ps, err := rx.Collect(context.Background(), ct.client.RequestStream(context.Background(), PayloadFromText("s", "")))
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, dataOf(ps))
}

func Test_Conn_RequestStream_Lazy(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	var calls int32
	ct := newConnTester(t, StaticAcceptor(ForRequestStream(func(context.Context, Payload) rx.Publisher[Payload] {
		atomic.AddInt32(&calls, 1)
		return rx.Empty[Payload]()
	})))
	defer ct.Close()

	pub := ct.client.RequestStream(context.Background(), Payload{})
	time.Sleep(time.Millisecond * 20)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	ps, err := rx.Collect(context.Background(), pub)
	assert.NoError(t, err)
	assert.Empty(t, ps)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func Test_Conn_RequestStream_Cancel(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	cancelled := make(chan struct{})
	ct := newConnTester(t, StaticAcceptor(ForRequestStream(func(ctx context.Context, p Payload) rx.Publisher[Payload] {
		return rx.FromSeq2(func(yield func(Payload, error) bool) {
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					close(cancelled)
					return
				case <-time.After(time.Millisecond):
				}
				if !yield(PayloadFromText("tick", ""), nil) {
					return
				}
			}
		})
	})))
	defer ct.Close()

	n := 0
	for p, err := range rx.ToSeq(context.Background(), ct.client.RequestStream(context.Background(), Payload{}), 1) {
		assert.NoError(t, err)
		assert.Equal(t, "tick", p.DataUTF8())
		if n++; n == 3 {
			break
		}
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("responder not cancelled")
	}
}

func Test_Conn_RequestChannel(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(newTestResponder()))
	defer ct.Close()

	in := rx.Just(PayloadFromText("x", ""), PayloadFromText("y", ""), PayloadFromText("z", ""))
	ps, err := rx.Collect(context.Background(), ct.client.RequestChannel(context.Background(), in))
	assert.NoError(t, err)
	assert.Equal(t, []string{"X", "Y", "Z"}, dataOf(ps))
}

func Test_Conn_RequestChannel_Empty(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(ForRequestChannel(func(ctx context.Context, in rx.Publisher[Payload]) rx.Publisher[Payload] {
		return in
	})))
	defer ct.Close()

	ps, err := rx.Collect(context.Background(), ct.client.RequestChannel(context.Background(), rx.Empty[Payload]()))
	assert.NoError(t, err)
	// the empty payload opening the channel is echoed
	assert.Equal(t, 1, len(ps))
	assert.False(t, ps[0].HasData())
}

func Test_Conn_FireAndForget(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newTestResponder()
	ct := newConnTester(t, StaticAcceptor(tr))
	defer ct.Close()

	assert.NoError(t, ct.client.FireAndForget(context.Background(), PayloadFromText("fire", "")))
	select {
	case p := <-tr.fnfCh:
		assert.Equal(t, "fire", p.DataUTF8())
	case <-time.After(time.Second):
		t.Error("timeout")
	}
}

func Test_Conn_MetadataPush(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newTestResponder()
	ct := newConnTester(t, StaticAcceptor(tr))
	defer ct.Close()

	assert.NoError(t, ct.client.MetadataPush(context.Background(), PayloadFromText("", "pushed")))
	select {
	case p := <-tr.pushCh:
		assert.Equal(t, "pushed", p.MetadataUTF8())
	case <-time.After(time.Second):
		t.Error("timeout")
	}
}

func Test_Conn_ServerRequestsClient(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	peerCh := make(chan RSocket, 1)
	ct := newConnTester(t, AcceptorFunc(func(setup SetupPayload, sendingSocket RSocket) (RSocket, error) {
		peerCh <- sendingSocket
		return UnimplementedRSocket{}, nil
	}))
	defer ct.Close()

	peer := <-peerCh
	_, err := peer.RequestResponse(context.Background(), PayloadFromText("hi", ""))
	assert.Equal(t, errNoResponder, err)

	ct.client.SetResponder(ForRequestResponse(func(ctx context.Context, p Payload) (Payload, error) {
		return PayloadFromText("client says "+p.DataUTF8(), ""), nil
	}))
	p, err := peer.RequestResponse(context.Background(), PayloadFromText("hi", ""))
	assert.NoError(t, err)
	assert.Equal(t, "client says hi", p.DataUTF8())
}

func Test_Conn_RequestResponse_ContextCancel(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	cancelled := make(chan struct{})
	ct := newConnTester(t, StaticAcceptor(ForRequestResponse(func(ctx context.Context, p Payload) (Payload, error) {
		<-ctx.Done()
		close(cancelled)
		return Payload{}, ctx.Err()
	})))
	defer ct.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	_, err := ct.client.RequestResponse(ctx, PayloadFromText("slow", ""))
	assert.Equal(t, context.DeadlineExceeded, err)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("responder not cancelled")
	}
}

func Test_Conn_CloseRejectsPending(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	started := make(chan struct{})
	ct := newConnTester(t, StaticAcceptor(ForRequestResponse(func(ctx context.Context, p Payload) (Payload, error) {
		close(started)
		<-ctx.Done()
		return Payload{}, ctx.Err()
	})))

	errCh := make(chan error, 1)
	go func() {
		_, err := ct.client.RequestResponse(context.Background(), PayloadFromText("wait", ""))
		errCh <- err
	}()
	<-started
	ct.Close()
	err := <-errCh
	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, ErrorCodeConnectionClose, e.Code)

	_, err = ct.client.RequestResponse(context.Background(), Payload{})
	assert.True(t, isClosedError(err))
	assert.Zero(t, ct.client.Availability())
}

func Test_Conn_Stats(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(newTestResponder()))
	_, err := ct.client.RequestResponse(context.Background(), PayloadFromText("hello", ""))
	assert.NoError(t, err)
	ct.Close()
	assert.NotZero(t, atomic.LoadInt64(&ct.a.bytesWritten))
	assert.NotZero(t, atomic.LoadInt64(&ct.b.bytesRead))
	assert.Equal(t, atomic.LoadInt64(&ct.a.bytesWritten), atomic.LoadInt64(&ct.b.bytesRead))
}

// rawTester drives a server Conn with hand written frames.
type rawTester struct {
	t      *testing.T
	raw    *rwcPipe
	server *Conn
	done   chan error
}

func newRawTester(t *testing.T, acceptor SocketAcceptor) *rawTester {
	a, b := newRwcPipes()
	rt := &rawTester{t: t, raw: a, server: NewServerConn(b, acceptor)}
	rt.done = serveConn(rt.server)
	return rt
}

func (rt *rawTester) write(f Frame) {
	_, err := rt.raw.Write(f.Encode())
	assert.NoError(rt.t, err)
}

func (rt *rawTester) read() Frame {
	b, err := ReadFrame(rt.raw)
	if !assert.NoError(rt.t, err) {
		return nil
	}
	f, err := ParseFrame(b)
	assert.NoError(rt.t, err)
	return f
}

func (rt *rawTester) expectClosed() {
	_, err := ReadFrame(rt.raw)
	assert.Equal(rt.t, io.EOF, err)
	rt.raw.Close()
	<-rt.done
}

func (rt *rawTester) expectError(code ErrorCode) {
	f, ok := rt.read().(*ErrorFrame)
	if assert.True(rt.t, ok) {
		assert.Equal(rt.t, uint32(0), f.StreamID)
		assert.Equal(rt.t, code, f.Code)
	}
	rt.expectClosed()
}

func Test_Conn_KeepAliveEcho(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, StaticAcceptor(newTestResponder()))
	rt.write(NewSetupPayload().Frame())
	rt.write(NewKeepAliveFrame(true, 1234))
	f, ok := rt.read().(*KeepAliveFrame)
	if assert.True(t, ok) {
		assert.False(t, f.Respond())
		assert.Equal(t, uint64(1234), f.LastPosition)
	}
	// no reply without the respond flag, unknown frames are skipped
	rt.write(NewKeepAliveFrame(false, 1))
	_, err := rt.raw.Write([]byte{0, 0, 6, 0, 0, 0, 0, byte(FrameTypeExt) << 2, 0})
	assert.NoError(t, err)
	rt.write(NewRequestResponseFrame(1, PayloadFromText("x", "")))
	pf, ok := rt.read().(*PayloadFrame)
	if assert.True(t, ok) {
		assert.Equal(t, uint32(1), pf.StreamID)
		assert.True(t, pf.Complete())
		assert.Equal(t, "echo x", pf.Payload.DataUTF8())
	}
	assert.NoError(t, rt.server.Close())
	rt.expectClosed()
}

func Test_Conn_SetupRefused(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, AcceptorFunc(func(SetupPayload, RSocket) (RSocket, error) { return nil, nil }))
	rt.write(NewSetupPayload().Frame())
	rt.expectError(ErrorCodeRejectedSetup)
}

func Test_Conn_SetupAcceptorError(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, AcceptorFunc(func(SetupPayload, RSocket) (RSocket, error) {
		return nil, errors.New("go away")
	}))
	rt.write(NewSetupPayload().Frame())
	f, ok := rt.read().(*ErrorFrame)
	if assert.True(t, ok) {
		assert.Equal(t, ErrorCodeRejectedSetup, f.Code)
		assert.Equal(t, "go away", f.Message)
	}
	rt.expectClosed()
}

func Test_Conn_SetupVersionMismatch(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, StaticAcceptor(newTestResponder()))
	sp := NewSetupPayload()
	sp.Version = Version{2, 0}
	rt.write(sp.Frame())
	rt.expectError(ErrorCodeUnsupportedSetup)
}

func Test_Conn_SetupResume(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, StaticAcceptor(newTestResponder()))
	sp := NewSetupPayload()
	sp.ResumeToken = []byte("token")
	rt.write(sp.Frame())
	rt.expectError(ErrorCodeUnsupportedSetup)
}

func Test_Conn_SetupMissing(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, StaticAcceptor(newTestResponder()))
	rt.write(NewRequestResponseFrame(1, PayloadFromText("x", "")))
	rt.expectError(ErrorCodeInvalidSetup)
}

func Test_Conn_SetupTwice(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, StaticAcceptor(newTestResponder()))
	rt.write(NewSetupPayload().Frame())
	rt.write(NewSetupPayload().Frame())
	rt.expectError(ErrorCodeConnectionError)
}

func Test_Conn_Lifetime(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	rt := newRawTester(t, StaticAcceptor(newTestResponder()))
	sp := NewSetupPayload()
	sp.MaxLifetime = time.Millisecond * 40
	rt.write(sp.Frame())
	f, ok := rt.read().(*ErrorFrame)
	if assert.True(t, ok) {
		assert.Equal(t, ErrorCodeConnectionError, f.Code)
		assert.Equal(t, "keepalive timeout", f.Message)
	}
	rt.expectClosed()
}

func Test_Conn_ErrorConsumer(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	a, b := newRwcPipes()
	errCh := make(chan *Error, 1)
	client := NewClientConn(a, NewSetupPayload())
	client.ErrorConsumer = func(err *Error) { errCh <- err }
	done := serveConn(client)
	_, err := b.Write(NewErrorFrame(0, ErrorCodeConnectionError, "bad").Encode())
	assert.NoError(t, err)
	select {
	case e := <-errCh:
		assert.Equal(t, NewError(ErrorCodeConnectionError, "bad"), e)
	case <-time.After(time.Second):
		t.Error("timeout")
	}
	assert.NoError(t, b.Close())
	assert.NoError(t, <-done)
}

type countingStreamResponder struct {
	*testResponder
	n int
}

func (cs countingStreamResponder) RequestStream(ctx context.Context, p Payload) rx.Publisher[Payload] {
	ps := make([]Payload, cs.n)
	for i := range ps {
		ps[i] = PayloadFromText(strconv.Itoa(i), "")
	}
	return rx.Just(ps...)
}

func Test_Conn_RequestStream_SlowConsumer(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(countingStreamResponder{newTestResponder(), 20}))
	defer ct.Close()

	// requests made while a stream item is being handled must not
	// wait for the rest of the stream to be consumed
	n := 0
	for p, err := range rx.ToSeq(context.Background(), ct.client.RequestStream(context.Background(), Payload{}), 1) {
		if !assert.NoError(t, err) {
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
		r, err := ct.client.RequestResponse(ctx, PayloadFromText(p.DataUTF8(), ""))
		cancel()
		if !assert.NoError(t, err, "stream item %d", n) {
			break
		}
		assert.Equal(t, "echo "+strconv.Itoa(n), r.DataUTF8())
		n++
	}
	assert.Equal(t, 20, n)
}

func Test_Conn_FrameTooLarge(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	ct := newConnTester(t, StaticAcceptor(ForRequestResponse(func(ctx context.Context, p Payload) (Payload, error) {
		if p.DataUTF8() == "big" {
			return Payload{Data: make([]byte, FrameMaxLength)}, nil
		}
		return p, nil
	})))
	defer ct.Close()

	_, err := ct.client.RequestResponse(context.Background(), Payload{Data: make([]byte, FrameMaxLength)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = ct.client.RequestResponse(context.Background(), PayloadFromText("big", ""))
	assert.Equal(t, ErrFrameTooLarge, err)

	// the connection is still usable
	p, err := ct.client.RequestResponse(context.Background(), PayloadFromText("small", ""))
	assert.NoError(t, err)
	assert.Equal(t, "small", p.DataUTF8())
}

func Test_Conn_RequestChannel_CancelledByRequester(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	inErr := make(chan error, 1)
	ct := newConnTester(t, StaticAcceptor(ForRequestChannel(func(ctx context.Context, in rx.Publisher[Payload]) rx.Publisher[Payload] {
		go func() {
			var err error
			for _, e := range rx.ToSeq(context.Background(), in, 16) {
				if e != nil {
					err = e
				}
			}
			inErr <- err
		}()
		return rx.FromSeq2(func(yield func(Payload, error) bool) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
				if !yield(PayloadFromText("tick", ""), nil) {
					return
				}
			}
		})
	})))
	defer ct.Close()

	ch := make(chan Payload, 1)
	ch <- PayloadFromText("open", "")
	in := rx.FromChan(context.Background(), ch)
	n := 0
	for p, err := range rx.ToSeq(context.Background(), ct.client.RequestChannel(context.Background(), in), 1) {
		assert.NoError(t, err)
		assert.Equal(t, "tick", p.DataUTF8())
		if n++; n == 2 {
			break
		}
	}

	select {
	case err := <-inErr:
		var e *Error
		if assert.True(t, errors.As(err, &e)) {
			assert.Equal(t, ErrorCodeCanceled, e.Code)
		}
	case <-time.After(time.Second):
		t.Error("inbound side not terminated")
	}
	assert.Eventually(t, func() bool {
		ct.server.mu.Lock()
		defer ct.server.mu.Unlock()
		return len(ct.server.receivers) == 0 && len(ct.server.cancels) == 0
	}, time.Second, time.Millisecond*10)
	assert.Eventually(t, func() bool {
		ct.client.mu.Lock()
		defer ct.client.mu.Unlock()
		return len(ct.client.senders) == 0 && len(ct.client.cancels) == 0
	}, time.Second, time.Millisecond*10)
}

type logBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (lb *logBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.b.Write(p)
}

func (lb *logBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.b.String()
}

func Test_Conn_DebugOnlyWithNetLog(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	saved := log.Logger
	defer func() { log.Logger = saved }()

	for _, netLog := range []bool{false, true} {
		lb := &logBuffer{}
		log.Logger = zerolog.New(lb).Level(zerolog.DebugLevel)
		a, b := newRwcPipes()
		server := NewServerConn(b, StaticAcceptor(newTestResponder()))
		server.NetLog(netLog)
		client := NewClientConn(a, NewSetupPayload())
		serverDone := serveConn(server)
		clientDone := serveConn(client)
		assert.NoError(t, client.sendSetup())
		_, err := client.RequestResponse(context.Background(), PayloadFromText("x", ""))
		assert.NoError(t, err)
		assert.NoError(t, client.Close())
		assert.NoError(t, <-clientDone)
		<-serverDone
		if netLog {
			assert.Contains(t, lb.String(), "accepted")
			assert.Contains(t, lb.String(), "REQUEST_RESPONSE")
		} else {
			assert.Empty(t, lb.String())
		}
	}
}
