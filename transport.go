package rsocket

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ALPN is the TLS application protocol negotiated by the quic transport.
const ALPN = "rsocket"

// Listener accepts transport connections for a Server.
type Listener interface {
	Accept() (io.ReadWriteCloser, error)
	Close() error
	Addr() net.Addr
}

// Dialer opens transport connections. The URL scheme selects the
// transport: tcp, ws, wss or quic. An address without a scheme is tcp.
type Dialer struct {
	Timeout   time.Duration // dialing timeout, no timeout if zero
	TLSConfig *tls.Config   // used by wss and quic (optional)
	Insecure  bool          // skip certificate verification if TLSConfig is nil
	Header    http.Header   // extra websocket handshake headers (optional)
}

// UnsupportedTransportError is returned for unknown URL schemes.
type UnsupportedTransportError struct {
	Scheme string
}

func (e UnsupportedTransportError) Error() string {
	return "unsupported transport " + e.Scheme
}

// ParseURL parses a transport URL, defaulting the scheme to tcp.
func ParseURL(rawurl string) (*url.URL, error) {
	if !strings.Contains(rawurl, "://") {
		rawurl = "tcp://" + rawurl
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	switch u.Scheme {
	case "tcp", "ws", "wss", "quic":
	default:
		return nil, errors.WithStack(UnsupportedTransportError{u.Scheme})
	}
	return u, nil
}

func (d *Dialer) clientTLS(host string) *tls.Config {
	if d.TLSConfig != nil {
		return d.TLSConfig.Clone()
	}
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: d.Insecure,
		MinVersion:         tls.VersionTLS12,
	}
}

// Dial connects to the server at rawurl.
func (d *Dialer) Dial(ctx context.Context, rawurl string) (io.ReadWriteCloser, error) {
	u, err := ParseURL(rawurl)
	if err != nil {
		return nil, err
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	switch u.Scheme {
	case "ws", "wss":
		return d.dialWebsocket(ctx, u)
	case "quic":
		return d.dialQUIC(ctx, u)
	}
	var nd net.Dialer
	rwc, err := nd.DialContext(ctx, "tcp", u.Host)
	return rwc, errors.WithStack(err)
}

// Dial connects to rawurl using a zero Dialer.
func Dial(ctx context.Context, rawurl string) (io.ReadWriteCloser, error) {
	var d Dialer
	return d.Dial(ctx, rawurl)
}

// Listen announces on the address in rawurl. tlsConfig is required for
// wss and quic and ignored otherwise.
func Listen(rawurl string, tlsConfig *tls.Config) (Listener, error) {
	u, err := ParseURL(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws", "wss":
		return listenWebsocket(u, tlsConfig)
	case "quic":
		return listenQUIC(u, tlsConfig)
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tcpKeepAliveListener{ln.(*net.TCPListener)}, nil
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// network connections so dead network connections eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (io.ReadWriteCloser, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}
