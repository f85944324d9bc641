package rsocket

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// wsConn carries frames as binary websocket messages. Reads prepend the
// 24-bit frame length that websocket framing makes redundant, and writes
// strip it again.
type wsConn struct {
	ws   *websocket.Conn
	rd   bytes.Reader
	wmu  sync.Mutex
	wbuf []byte
	once sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws}
	c.rd.Reset(nil)
	return c
}

func (c *wsConn) Read(p []byte) (n int, err error) {
	for c.rd.Len() == 0 {
		var mt int
		var msg []byte
		if mt, msg, err = c.ws.ReadMessage(); err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			log.Debug().Int("type", mt).Int("len", len(msg)).Msg("websocket: ignoring non-binary message")
			continue
		}
		if len(msg) > FrameMaxLength {
			return 0, errors.Wrapf(ProtocolError{}, "websocket message length %d too long", len(msg))
		}
		b := make([]byte, FrameLengthSize+len(msg))
		b[0] = byte(len(msg) >> 16)
		b[1] = byte(len(msg) >> 8)
		b[2] = byte(len(msg))
		copy(b[FrameLengthSize:], msg)
		c.rd.Reset(b)
	}
	return c.rd.Read(p)
}

// Write accepts any split of the frame stream and sends one message
// per complete frame.
func (c *wsConn) Write(p []byte) (n int, err error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.wbuf = append(c.wbuf, p...)
	for len(c.wbuf) >= FrameLengthSize {
		size := int(c.wbuf[0])<<16 | int(c.wbuf[1])<<8 | int(c.wbuf[2])
		if len(c.wbuf) < FrameLengthSize+size {
			break
		}
		if err = c.ws.WriteMessage(websocket.BinaryMessage, c.wbuf[FrameLengthSize:FrameLengthSize+size]); err != nil {
			return
		}
		c.wbuf = c.wbuf[FrameLengthSize+size:]
	}
	if len(c.wbuf) == 0 {
		c.wbuf = nil
	}
	return len(p), nil
}

func (c *wsConn) Close() (err error) {
	c.once.Do(func() {
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (d *Dialer) dialWebsocket(ctx context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	wd := *websocket.DefaultDialer
	if u.Scheme == "wss" {
		wd.TLSClientConfig = d.clientTLS(u.Hostname())
	}
	ws, resp, err := wd.DialContext(ctx, u.String(), d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", u.Redacted())
	}
	return newWSConn(ws), nil
}

// wsListener upgrades HTTP requests on a single path and hands out
// the resulting websocket connections.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	connCh   chan io.ReadWriteCloser
	doneChan chan struct{}
	once     sync.Once
}

func listenWebsocket(u *url.URL, tlsConfig *tls.Config) (Listener, error) {
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if u.Scheme == "wss" {
		if tlsConfig == nil {
			ln.Close()
			return nil, errors.New("wss requires a TLS config")
		}
		ln = tls.NewListener(ln, tlsConfig)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	wl := &wsListener{
		ln:       ln,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		connCh:   make(chan io.ReadWriteCloser),
		doneChan: make(chan struct{}),
	}
	router := httprouter.New()
	router.GET(path, wl.serveUpgrade)
	wl.srv = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := wl.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("websocket listener")
		}
	}()
	return wl, nil
}

func (wl *wsListener) serveUpgrade(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := wl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade")
		return
	}
	c := newWSConn(ws)
	select {
	case wl.connCh <- c:
	case <-wl.doneChan:
		c.Close()
	}
}

func (wl *wsListener) Accept() (io.ReadWriteCloser, error) {
	select {
	case c := <-wl.connCh:
		return c, nil
	case <-wl.doneChan:
		return nil, errors.WithStack(net.ErrClosed)
	}
}

func (wl *wsListener) Close() (err error) {
	wl.once.Do(func() {
		close(wl.doneChan)
		err = wl.srv.Close()
	})
	return
}

func (wl *wsListener) Addr() net.Addr {
	return wl.ln.Addr()
}
