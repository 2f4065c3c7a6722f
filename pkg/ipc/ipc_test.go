package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/assert"
)

type echoRequest struct {
	Text  string `cbor:"text"`
	Times int    `cbor:"times"`
}

type echoReply struct {
	Out []string `cbor:"out"`
}

type codedErr struct{}

func (codedErr) Error() string { return "nope" }
func (codedErr) Code() string  { return CodeUnavailable }

func startServer(t *testing.T, s *Server, dir SocketDirectory) func() {
	t.Helper()
	assert.NilError(t, s.Listen(dir.Endpoint(s.Name())))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NilError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	}
}

func newEchoServer() *Server {
	s := NewServer("echo")
	s.Handle("echo", func(ctx context.Context, raw []byte) (interface{}, error) {
		var req echoRequest
		if err := Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		reply := echoReply{}
		for i := 0; i < req.Times; i++ {
			reply.Out = append(reply.Out, req.Text)
		}
		return reply, nil
	})
	s.Handle("fail", func(ctx context.Context, raw []byte) (interface{}, error) {
		return nil, errors.Wrap(codedErr{}, "wrapped")
	})
	s.HandleStream("ticks", func(ctx context.Context, raw []byte, stream *Stream) error {
		if err := stream.Accept(); err != nil {
			return err
		}
		for i := 1; i <= 3; i++ {
			if err := stream.Send("tick", echoRequest{Times: i}); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return nil
	})
	s.HandleStream("refuse", func(ctx context.Context, raw []byte, stream *Stream) error {
		return WithCode(errors.New("no radio"), CodeUnavailable)
	})
	return s
}

func TestCallRoundTrip(t *testing.T) {
	dir := SocketDirectory{Dir: t.TempDir()}
	stop := startServer(t, newEchoServer(), dir)
	defer stop()

	c, err := Connect(context.Background(), dir, "echo")
	assert.NilError(t, err)
	defer c.Close()
	assert.Equal(t, c.Name(), "echo")

	var reply echoReply
	err = c.Call(context.Background(), "echo", map[string]interface{}{"text": "hi", "times": 2}, &reply)
	assert.NilError(t, err)
	assert.DeepEqual(t, reply.Out, []string{"hi", "hi"})
}

func TestCallErrorsCarryCode(t *testing.T) {
	dir := SocketDirectory{Dir: t.TempDir()}
	stop := startServer(t, newEchoServer(), dir)
	defer stop()

	c, err := Connect(context.Background(), dir, "echo")
	assert.NilError(t, err)
	defer c.Close()

	err = c.Call(context.Background(), "fail", nil, nil)
	se, ok := err.(*ServiceError)
	assert.Assert(t, ok)
	assert.Equal(t, se.Code, CodeUnavailable)
	assert.Equal(t, se.Message, "wrapped: nope")
	assert.Equal(t, ErrorCode(err), CodeUnavailable)

	err = c.Call(context.Background(), "missing", nil, nil)
	assert.Equal(t, ErrorCode(err), CodeBadParameter)
}

func TestStreamDeliversEvents(t *testing.T) {
	dir := SocketDirectory{Dir: t.TempDir()}
	stop := startServer(t, newEchoServer(), dir)
	defer stop()

	c, err := Connect(context.Background(), dir, "echo")
	assert.NilError(t, err)
	defer c.Close()

	got := make(chan int, 3)
	sub, err := c.Subscribe(context.Background(), "ticks", nil, func(ev Event) {
		var req echoRequest
		if ev.Decode(&req) == nil && ev.Name == "tick" {
			got <- req.Times
		}
	})
	assert.NilError(t, err)
	for want := 1; want <= 3; want++ {
		select {
		case n := <-got:
			assert.Equal(t, n, want)
		case <-time.After(5 * time.Second):
			t.Fatal("missing stream event")
		}
	}
	assert.NilError(t, sub.Close())
}

func TestStreamRefusedBeforeAccept(t *testing.T) {
	dir := SocketDirectory{Dir: t.TempDir()}
	stop := startServer(t, newEchoServer(), dir)
	defer stop()

	c, err := Connect(context.Background(), dir, "echo")
	assert.NilError(t, err)
	defer c.Close()

	_, err = c.Subscribe(context.Background(), "refuse", nil, func(Event) {})
	assert.ErrorContains(t, err, "no radio")
	assert.Equal(t, ErrorCode(err), CodeUnavailable)
}

func TestServerShutdownReportsLoss(t *testing.T) {
	dir := SocketDirectory{Dir: t.TempDir()}
	stop := startServer(t, newEchoServer(), dir)

	c, err := Connect(context.Background(), dir, "echo")
	assert.NilError(t, err)
	defer c.Close()

	lost := make(chan struct{})
	c.NotifyLost(func() { close(lost) })
	stop()

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("loss not reported")
	}
	assert.Assert(t, c.Lost())

	late := false
	c.NotifyLost(func() { late = true })
	assert.Assert(t, late)
}

func TestCloseDoesNotReportLoss(t *testing.T) {
	dir := SocketDirectory{Dir: t.TempDir()}
	stop := startServer(t, newEchoServer(), dir)
	defer stop()

	c, err := Connect(context.Background(), dir, "echo")
	assert.NilError(t, err)

	fired := make(chan struct{}, 1)
	c.NotifyLost(func() { fired <- struct{}{} })
	assert.NilError(t, c.Close())

	select {
	case <-fired:
		t.Fatal("loss reported after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocketDirectoryLookup(t *testing.T) {
	dir := SocketDirectory{Dir: t.TempDir()}
	_, err := dir.Lookup(context.Background(), "echo")
	assert.Equal(t, errors.Cause(err), ErrNotFound)

	_, err = Connect(context.Background(), dir, "echo")
	assert.Equal(t, errors.Cause(err), ErrNotFound)

	stop := startServer(t, newEchoServer(), dir)
	defer stop()
	ep, err := dir.Lookup(context.Background(), "echo")
	assert.NilError(t, err)
	assert.Equal(t, ep, dir.Endpoint("echo"))
}

func TestDuplicateHandlerPanics(t *testing.T) {
	s := NewServer("dup")
	defer func() {
		assert.Assert(t, recover() != nil)
	}()
	s.Handle(watchAction, func(ctx context.Context, raw []byte) (interface{}, error) { return nil, nil })
}
