package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("ipc")

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// ActionFunc answers one request. raw is the full CBOR request including the
// action field. A non-nil result is marshaled into the response data field.
type ActionFunc func(ctx context.Context, raw []byte) (interface{}, error)

// StreamFunc serves a long-lived stream. It calls Accept once it is ready to
// deliver events, then should block until ctx is done, which happens when the
// subscriber hangs up or the server shuts down. An error returned before
// Accept is sent to the subscriber as the stream's response.
type StreamFunc func(ctx context.Context, raw []byte, stream *Stream) error

// Server serves the request/response and stream protocol for one service.
type Server struct {
	name     string
	handlers map[string]ActionFunc
	streams  map[string]StreamFunc

	listener net.Listener
	endpoint Endpoint
	active   sync.WaitGroup
}

// NewServer creates a server for the named service. The watch stream used by
// clients for loss detection is registered already.
func NewServer(name string) *Server {
	s := &Server{
		name:     name,
		handlers: make(map[string]ActionFunc),
		streams:  make(map[string]StreamFunc),
	}
	s.HandleStream(watchAction, func(ctx context.Context, raw []byte, stream *Stream) error {
		if err := stream.Accept(); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	return s
}

// Name returns the service name.
func (s *Server) Name() string { return s.name }

// Handle registers a request/response action. Panics on duplicates.
func (s *Server) Handle(action string, fn ActionFunc) {
	s.mustBeFree(action)
	s.handlers[action] = fn
}

// HandleStream registers a stream action. Panics on duplicates.
func (s *Server) HandleStream(action string, fn StreamFunc) {
	s.mustBeFree(action)
	s.streams[action] = fn
}

func (s *Server) mustBeFree(action string) {
	_, a := s.handlers[action]
	_, b := s.streams[action]
	if a || b {
		panic(fmt.Sprintf("ipc: duplicate handler for %s.%s", s.name, action))
	}
}

// Listen binds the endpoint. Unix socket paths get their directory created
// and any stale socket file removed.
func (s *Server) Listen(ep Endpoint) error {
	if ep.Network == "unix" {
		if err := os.MkdirAll(filepath.Dir(ep.Address), 0755); err != nil {
			return errors.Wrap(err, "socket dir issue")
		}
		if err := os.Remove(ep.Address); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "stale socket issue")
		}
	}
	l, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return errors.Wrapf(err, "could not listen on %s", ep)
	}
	s.listener = l
	s.endpoint = Endpoint{Network: ep.Network, Address: l.Addr().String()}
	if ep.Network == "unix" {
		s.endpoint.Address = ep.Address
	}
	return nil
}

// Endpoint returns the bound endpoint. Only valid after Listen.
func (s *Server) Endpoint() Endpoint { return s.endpoint }

// Port returns the bound TCP port, or 0 for unix sockets.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve accepts connections until ctx is cancelled, then waits for open
// requests and streams to finish. Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("ipc: Serve called before Listen")
	}
	defer func() {
		s.listener.Close()
		if s.endpoint.Network == "unix" {
			os.Remove(s.endpoint.Address)
		}
	}()
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	log.Infow("service listening", "service", s.name, "endpoint", s.endpoint.String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.Warnw("accept failed", "service", s.name, "err", err)
				continue
			}
			s.active.Wait()
			return errors.Wrap(err, "accept issue")
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConn(ctx, conn)
		}()
	}
	s.active.Wait()
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw cbor.RawMessage
	if err := newDecoder(io.LimitReader(conn, maxFrameSize)).Decode(&raw); err != nil {
		if errors.Cause(err) != io.EOF {
			writeResponse(conn, errorResponse(fmt.Sprintf("invalid request: %v", err), ""))
		}
		return
	}
	var header requestHeader
	if err := Unmarshal(raw, &header); err != nil {
		writeResponse(conn, errorResponse(fmt.Sprintf("invalid request: %v", err), ""))
		return
	}
	if header.Action == "" {
		writeResponse(conn, errorResponse("missing required field: action", ""))
		return
	}
	if fn, ok := s.handlers[header.Action]; ok {
		s.answer(ctx, conn, header.Action, raw, fn)
		return
	}
	if fn, ok := s.streams[header.Action]; ok {
		s.stream(ctx, conn, header.Action, raw, fn)
		return
	}
	writeResponse(conn, errorResponse(fmt.Sprintf("unknown action %q", header.Action), CodeBadParameter))
}

func (s *Server) answer(ctx context.Context, conn net.Conn, action string, raw []byte, fn ActionFunc) {
	result, err := fn(ctx, raw)
	if err != nil {
		log.Debugw("action failed", "service", s.name, "action", action, "err", err)
		writeResponse(conn, errorResponse(err.Error(), ErrorCode(err)))
		return
	}
	resp := Response{OK: true}
	if result != nil {
		data, err := Marshal(result)
		if err != nil {
			writeResponse(conn, errorResponse(fmt.Sprintf("marshal response: %v", err), ""))
			return
		}
		resp.Data = data
	}
	writeResponse(conn, resp)
}

func (s *Server) stream(ctx context.Context, conn net.Conn, action string, raw []byte, fn StreamFunc) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st := &Stream{conn: conn, ctx: streamCtx, cancel: cancel, enc: newEncoder(conn)}
	err := fn(streamCtx, raw, st)
	if !st.accepted {
		if err == nil {
			err = errors.New("stream closed before accepting")
		}
		writeResponse(conn, errorResponse(err.Error(), ErrorCode(err)))
		return
	}
	if err != nil {
		log.Debugw("stream ended", "service", s.name, "action", action, "err", err)
	}
}

// Stream is the server side of an open stream.
type Stream struct {
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelFunc
	enc    *cbor.Encoder

	mu       sync.Mutex
	accepted bool
}

// Accept acknowledges the subscription. Events may be sent afterwards.
func (st *Stream) Accept() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.accepted {
		return nil
	}
	if err := writeResponse(st.conn, Response{OK: true}); err != nil {
		st.cancel()
		return errors.Wrap(err, "stream ack issue")
	}
	st.accepted = true
	st.conn.SetReadDeadline(time.Time{})
	// Subscribers never write after the request, so any read completion
	// means they hung up.
	go func() {
		var discard [1]byte
		st.conn.Read(discard[:])
		st.cancel()
	}()
	return nil
}

// Send pushes one event frame.
func (st *Stream) Send(event string, data interface{}) error {
	frame := Event{Name: event}
	if data != nil {
		b, err := Marshal(data)
		if err != nil {
			return errors.Wrap(err, "marshal event issue")
		}
		frame.Data = b
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.accepted {
		return errors.New("send on unaccepted stream")
	}
	if st.ctx.Err() != nil {
		return ErrLost
	}
	st.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := st.enc.Encode(frame); err != nil {
		st.cancel()
		return errors.Wrap(err, "send event issue")
	}
	return nil
}

func errorResponse(message, code string) Response {
	return Response{OK: false, Error: message, Code: code}
}

func writeResponse(conn net.Conn, resp Response) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := newEncoder(conn).Encode(resp); err != nil {
		log.Debugw("write response failed", "err", err)
		return err
	}
	return nil
}
