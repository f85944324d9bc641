package rsocket

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Connector builds client connections. The zero value is usable and
// announces the default session parameters.
type Connector struct {
	SetupPayload     Payload          // data and metadata sent with SETUP
	KeepAlive        time.Duration    // keepalive interval, DefaultKeepAlive if zero
	MaxLifetime      time.Duration    // max lifetime announced, DefaultMaxLifetime if zero
	DataMimeType     string           // DefaultDataMimeType if empty
	MetadataMimeType string           // DefaultMetadataMimeType if empty
	ErrorConsumer    func(err *Error) // receives connection errors (optional)
	Acceptor         SocketAcceptor   // provides the responder for server requests (optional)
	Dialer           Dialer           // transport options
	StatsCollector   StatsCollector   // where to report statistics (optional)
	NetLog           bool             // log every frame at debug level
}

// Setup returns the SetupPayload c announces.
func (c *Connector) Setup() SetupPayload {
	sp := NewSetupPayload()
	sp.Payload = c.SetupPayload
	if c.KeepAlive > 0 {
		sp.KeepAlive = c.KeepAlive
	}
	if c.MaxLifetime > 0 {
		sp.MaxLifetime = c.MaxLifetime
	}
	if c.DataMimeType != "" {
		sp.DataMimeType = c.DataMimeType
	}
	if c.MetadataMimeType != "" {
		sp.MetadataMimeType = c.MetadataMimeType
	}
	return sp
}

// Connect dials rawurl, starts serving the connection and sends SETUP.
// If an Acceptor is set and refuses the connection, ErrConnectionRefused
// is returned.
func (c *Connector) Connect(ctx context.Context, rawurl string) (*Conn, error) {
	rwc, err := c.Dialer.Dial(ctx, rawurl)
	if err != nil {
		return nil, errors.Wrap(err, "rsocket: connect")
	}
	return c.ConnectWith(rwc)
}

// ConnectWith sets up a client connection over an established transport.
func (c *Connector) ConnectWith(rwc io.ReadWriteCloser) (*Conn, error) {
	setup := c.Setup()
	conn := NewClientConn(rwc, setup)
	conn.ErrorConsumer = c.ErrorConsumer
	conn.StatsCollector = c.StatsCollector
	conn.NetLog(c.NetLog)
	if c.Acceptor != nil {
		rs, err := c.Acceptor.Accept(setup, conn)
		if err != nil || rs == nil {
			_ = rwc.Close()
			return nil, ErrConnectionRefused
		}
		conn.SetResponder(rs)
	}
	go func() {
		if err := conn.Serve(); err != nil {
			log.Debug().Str("conn", conn.String()).Err(err).Msg("serve")
		}
	}()
	if err := conn.sendSetup(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "rsocket: setup")
	}
	return conn, nil
}
