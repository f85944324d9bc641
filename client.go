package rsocket

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client balances requests over connections to one or more servers.
// Connections are established as needed, so creating a Client makes no
// network connection.
type Client struct {
	Connector    *Connector    // used to dial each URL
	DialTimeout  time.Duration // dialing timeout
	next         atomic.Uint64 // round robin counter
	mu           sync.Mutex    // protects those below
	urls         []string
	conns        map[string]*Conn
	dialing      map[string]*dialCall
	lastError    error
	lastAttempt  time.Time
	firstAttempt time.Time
}

var _ RSocket = (*Client)(nil)

// NewClient returns a Client for the given server URLs.
func NewClient(connector *Connector, urls ...string) *Client {
	if connector == nil {
		connector = &Connector{}
	}
	return &Client{
		Connector:   connector,
		DialTimeout: time.Second * 60,
		urls:        slices.Clone(urls),
		conns:       make(map[string]*Conn),
		dialing:     make(map[string]*dialCall),
	}
}

// dialCall is a dial in progress. Others needing the same URL wait
// for done and share the outcome.
type dialCall struct {
	done chan struct{}
	conn *Conn
	err  error
}

// URLs returns the server URLs currently in use.
func (c *Client) URLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.urls)
}

// Refresh replaces the set of server URLs. Connections to URLs that
// remain are kept, connections to removed URLs are closed and new URLs
// are dialed.
func (c *Client) Refresh(ctx context.Context, urls []string) error {
	c.mu.Lock()
	var removed []*Conn
	for url, conn := range c.conns {
		if !slices.Contains(urls, url) {
			removed = append(removed, conn)
			delete(c.conns, url)
		}
	}
	c.urls = slices.Clone(urls)
	c.mu.Unlock()

	for _, conn := range removed {
		_ = conn.Close()
	}

	var err error
	for _, url := range urls {
		c.mu.Lock()
		conn := c.conns[url]
		c.mu.Unlock()
		if conn == nil || conn.Availability() == 0 {
			if _, derr := c.dial(ctx, url); derr != nil && err == nil {
				err = derr
			}
		}
	}
	return err
}

// dial returns the live connection to url, connecting if there is
// none. Concurrent calls for the same url share a single dial.
func (c *Client) dial(ctx context.Context, url string) (*Conn, error) {
	c.mu.Lock()
	if conn := c.conns[url]; conn != nil && conn.Availability() > 0 {
		c.mu.Unlock()
		return conn, nil
	}
	if call := c.dialing[url]; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.conn, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.dialing == nil {
		c.dialing = make(map[string]*dialCall)
	}
	call := &dialCall{done: make(chan struct{})}
	c.dialing[url] = call
	c.mu.Unlock()

	call.conn, call.err = c.connect(ctx, url)

	c.mu.Lock()
	delete(c.dialing, url)
	c.mu.Unlock()
	close(call.done)
	return call.conn, call.err
}

// connect dials url and records the outcome.
func (c *Client) connect(ctx context.Context, url string) (*Conn, error) {
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}
	conn, err := c.Connector.Connect(ctx, url)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastError = err
		c.lastAttempt = time.Now()
		if c.firstAttempt.IsZero() {
			c.firstAttempt = c.lastAttempt
		}
		log.Debug().Str("url", url).Err(err).Msg("dial")
		return nil, err
	}
	if !slices.Contains(c.urls, url) {
		// removed by Refresh while dialing
		_ = conn.Close()
		return nil, errors.Errorf("%s no longer in use", url)
	}
	if old := c.conns[url]; old != nil {
		if old.Availability() > 0 {
			_ = conn.Close()
			return old, nil
		}
		_ = old.Close()
	}
	c.lastError = nil
	c.lastAttempt = time.Time{}
	c.firstAttempt = time.Time{}
	c.conns[url] = conn
	return conn, nil
}

func (c *Client) offlineError() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err = c.lastError; err == nil {
		err = fmt.Errorf("upstream server unresponsive")
	}
	if c.firstAttempt != c.lastAttempt {
		err = fmt.Errorf("%v; no response for %v",
			err, time.Since(c.firstAttempt))
	}
	return NewError(ErrorCodeConnectionError, err.Error())
}

// Next returns an available connection, picking round robin among
// the URLs and dialing those that have none.
func (c *Client) Next(ctx context.Context) (*Conn, error) {
	c.mu.Lock()
	urls := slices.Clone(c.urls)
	c.mu.Unlock()
	if len(urls) == 0 {
		return nil, NewError(ErrorCodeConnectionError, "no servers")
	}
	start := int(c.next.Add(1) - 1)
	for i := range urls {
		url := urls[(start+i)%len(urls)]
		c.mu.Lock()
		conn := c.conns[url]
		c.mu.Unlock()
		if conn != nil && conn.Availability() > 0 {
			return conn, nil
		}
	}
	for i := range urls {
		url := urls[(start+i)%len(urls)]
		if conn, err := c.dial(ctx, url); err == nil {
			return conn, nil
		}
	}
	return nil, c.offlineError()
}

// Availability returns the highest availability of the connections.
func (c *Client) Availability() (avail float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		avail = max(avail, conn.Availability())
	}
	return
}

// Close closes all connections.
func (c *Client) Close() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, conn := range c.conns {
		delete(c.conns, url)
		if connerr := conn.Close(); err == nil {
			err = connerr
		}
	}
	return
}

// FireAndForget implements RSocket.
func (c *Client) FireAndForget(ctx context.Context, p Payload) error {
	conn, err := c.Next(ctx)
	if err != nil {
		return err
	}
	return conn.FireAndForget(ctx, p)
}

// MetadataPush implements RSocket.
func (c *Client) MetadataPush(ctx context.Context, p Payload) error {
	conn, err := c.Next(ctx)
	if err != nil {
		return err
	}
	return conn.MetadataPush(ctx, p)
}

// RequestResponse implements RSocket.
func (c *Client) RequestResponse(ctx context.Context, p Payload) (Payload, error) {
	conn, err := c.Next(ctx)
	if err != nil {
		return Payload{}, err
	}
	return conn.RequestResponse(ctx, p)
}

// RequestStream implements RSocket.
func (c *Client) RequestStream(ctx context.Context, p Payload) rx.Publisher[Payload] {
	conn, err := c.Next(ctx)
	if err != nil {
		return rx.Error[Payload](err)
	}
	return conn.RequestStream(ctx, p)
}

// RequestChannel implements RSocket.
func (c *Client) RequestChannel(ctx context.Context, in rx.Publisher[Payload]) rx.Publisher[Payload] {
	conn, err := c.Next(ctx)
	if err != nil {
		return rx.Error[Payload](err)
	}
	return conn.RequestChannel(ctx, in)
}
