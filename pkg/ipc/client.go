package ipc

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	dialTimeout = 2 * time.Second
	// CallTimeout bounds one request/response exchange.
	CallTimeout = 5 * time.Second
)

// Client talks to one service instance. It holds a watch stream open for as
// long as it lives; when that stream drops the service is considered lost and
// every NotifyLost callback runs once.
type Client struct {
	name     string
	endpoint Endpoint

	mu     sync.Mutex
	watch  *Subscription
	lost   bool
	closed bool
	onLost []func()
}

// Dial connects to the service at ep and opens its watch stream.
func Dial(ctx context.Context, name string, ep Endpoint) (*Client, error) {
	c := &Client{name: name, endpoint: ep}
	sub, err := c.Subscribe(ctx, watchAction, nil, func(Event) {})
	if err != nil {
		return nil, errors.Wrapf(err, "could not reach %s", name)
	}
	c.watch = sub
	go func() {
		<-sub.Done()
		c.markLost()
	}()
	return c, nil
}

// Connect looks name up in dir and dials it.
func Connect(ctx context.Context, dir Directory, name string) (*Client, error) {
	ep, err := dir.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, name, ep)
}

// Name returns the service name the client was dialed for.
func (c *Client) Name() string { return c.name }

// Endpoint returns the address the client dials.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// NotifyLost registers fn to run once when the connection drops. If it has
// already dropped fn runs immediately. Callbacks never run after Close.
func (c *Client) NotifyLost(fn func()) {
	c.mu.Lock()
	if c.lost {
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			fn()
		}
		return
	}
	c.onLost = append(c.onLost, fn)
	c.mu.Unlock()
}

// Lost reports whether the watch stream has dropped.
func (c *Client) Lost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

func (c *Client) markLost() {
	c.mu.Lock()
	if c.lost {
		c.mu.Unlock()
		return
	}
	c.lost = true
	fns := c.onLost
	c.onLost = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	log.Infow("service lost", "service", c.name, "endpoint", c.endpoint.String())
	for _, fn := range fns {
		fn()
	}
}

// Close drops the watch stream without firing loss callbacks.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watch := c.watch
	c.mu.Unlock()
	if watch != nil {
		return watch.Close()
	}
	return nil
}

// Call sends one request and decodes the response data into result, which
// may be nil. A response with ok=false is returned as *ServiceError.
func (c *Client) Call(ctx context.Context, action string, fields map[string]interface{}, result interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, CallTimeout)
		defer cancel()
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := newEncoder(conn).Encode(buildRequest(action, fields)); err != nil {
		return errors.Wrapf(err, "%s.%s request issue", c.name, action)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}
	var resp Response
	if err := newDecoder(io.LimitReader(conn, maxFrameSize)).Decode(&resp); err != nil {
		return errors.Wrapf(err, "%s.%s response issue", c.name, action)
	}
	if !resp.OK {
		return &ServiceError{Service: c.name, Action: action, Code: resp.Code, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := Unmarshal(resp.Data, result); err != nil {
			return errors.Wrapf(err, "%s.%s decode issue", c.name, action)
		}
	}
	return nil
}

// Subscribe opens a stream. onEvent runs on the subscription's reader
// goroutine for every frame until the stream ends.
func (c *Client) Subscribe(ctx context.Context, action string, fields map[string]interface{}, onEvent func(Event)) (*Subscription, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout+CallTimeout)
	defer cancel()
	conn, err := c.dial(dctx)
	if err != nil {
		return nil, err
	}
	if deadline, ok := dctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := newEncoder(conn).Encode(buildRequest(action, fields)); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "%s.%s request issue", c.name, action)
	}
	dec := newDecoder(conn)
	var ack Response
	if err := dec.Decode(&ack); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "%s.%s ack issue", c.name, action)
	}
	if !ack.OK {
		conn.Close()
		return nil, &ServiceError{Service: c.name, Action: action, Code: ack.Code, Message: ack.Error}
	}
	conn.SetDeadline(time.Time{})

	sub := &Subscription{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			var ev Event
			if err := dec.Decode(&ev); err != nil {
				sub.setErr(err)
				return
			}
			onEvent(ev)
		}
	}()
	return sub, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, c.endpoint.Network, c.endpoint.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s issue", c.name)
	}
	return conn, nil
}

// Subscription is an open stream.
type Subscription struct {
	conn net.Conn
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed once the stream has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the read error that ended the stream.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Close hangs up and waits for the reader to exit. It must not be called
// from inside onEvent.
func (s *Subscription) Close() error {
	err := s.conn.Close()
	<-s.done
	return err
}
