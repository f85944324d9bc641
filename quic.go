package rsocket

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

var quicConfig = &quic.Config{
	MaxIdleTimeout:  30 * time.Second,
	KeepAlivePeriod: 10 * time.Second,
}

// quicConn carries a connection over the single bidirectional stream
// of a QUIC connection.
type quicConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicConn) Close() error {
	err := c.Stream.Close()
	if cerr := c.conn.CloseWithError(0, ""); err == nil {
		err = cerr
	}
	return err
}

func withALPN(cfg *tls.Config) *tls.Config {
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{ALPN}
	}
	return cfg
}

func (d *Dialer) dialQUIC(ctx context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	conn, err := quic.DialAddr(ctx, u.Host, withALPN(d.clientTLS(u.Hostname())), quicConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", u.Redacted())
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, errors.WithStack(err)
	}
	return &quicConn{Stream: stream, conn: conn}, nil
}

type quicListener struct {
	ln     *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
}

func listenQUIC(u *url.URL, tlsConfig *tls.Config) (Listener, error) {
	if tlsConfig == nil {
		return nil, errors.New("quic requires a TLS config")
	}
	ln, err := quic.ListenAddr(u.Host, withALPN(tlsConfig.Clone()), quicConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &quicListener{ln: ln, ctx: ctx, cancel: cancel}, nil
}

// Accept waits for a connection and its first stream.
func (ql *quicListener) Accept() (io.ReadWriteCloser, error) {
	for {
		conn, err := ql.ln.Accept(ql.ctx)
		if err != nil {
			if ql.ctx.Err() != nil {
				err = net.ErrClosed
			}
			return nil, errors.WithStack(err)
		}
		stream, err := conn.AcceptStream(ql.ctx)
		if err != nil {
			_ = conn.CloseWithError(0, "")
			if ql.ctx.Err() != nil {
				return nil, errors.WithStack(net.ErrClosed)
			}
			continue
		}
		return &quicConn{Stream: stream, conn: conn}, nil
	}
}

func (ql *quicListener) Close() error {
	ql.cancel()
	return ql.ln.Close()
}

func (ql *quicListener) Addr() net.Addr {
	return ql.ln.Addr()
}
