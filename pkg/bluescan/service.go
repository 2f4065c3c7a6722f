package bluescan

import (
	"context"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/pkg/errors"
)

const (
	actionStartScan = "start_scan"
	actionStopScan  = "stop_scan"
	actionStatus    = "status"
	streamResults   = "results"
	eventScanResult = "scan_result"

	codeNotReady        = "not-ready"
	codeAlreadyScanning = "already-scanning"

	subscriberBuffer = 8
)

type startScanRequest struct {
	DurationMs int64 `cbor:"duration_ms"`
}

// ResultsEvent carries one completed scan to a subscriber.
type ResultsEvent struct {
	Tokens []string `cbor:"tokens"`
}

// StatusReport is the wire form of Status.
type StatusReport struct {
	Phase          string `cbor:"phase"`
	Adapter        string `cbor:"adapter"`
	ClientID       int    `cbor:"client_id"`
	Scanning       bool   `cbor:"scanning"`
	Buffered       int    `cbor:"buffered"`
	CompletedScans int    `cbor:"completed_scans"`
}

// Service exposes a Provider over IPC. The provider keeps a single result
// callback, so only the newest results subscriber receives scans.
type Service struct {
	loop     *loop.Loop
	provider *Provider
	subID    int
	// detach ends the current results stream when a newer one replaces it
	detach func()
}

// NewService binds provider's operations onto srv.
func NewService(srv *ipc.Server, l *loop.Loop, provider *Provider) *Service {
	s := &Service{loop: l, provider: provider}
	srv.Handle(actionStartScan, s.startScan)
	srv.Handle(actionStopScan, s.stopScan)
	srv.Handle(actionStatus, s.status)
	srv.HandleStream(streamResults, s.results)
	return s
}

func (s *Service) startScan(ctx context.Context, raw []byte) (interface{}, error) {
	var req startScanRequest
	if err := ipc.Unmarshal(raw, &req); err != nil {
		return nil, ipc.WithCode(errors.Wrap(err, "bad start_scan request"), ipc.CodeBadParameter)
	}
	d := time.Duration(req.DurationMs) * time.Millisecond
	err := s.loop.Call(ctx, func() error { return s.provider.StartScan(d) })
	return nil, withWireCode(err)
}

func (s *Service) stopScan(ctx context.Context, raw []byte) (interface{}, error) {
	return nil, s.loop.Call(ctx, func() error {
		s.provider.StopScan()
		return nil
	})
}

func (s *Service) status(ctx context.Context, raw []byte) (interface{}, error) {
	var st Status
	if err := s.loop.Call(ctx, func() error {
		st = s.provider.Status()
		return nil
	}); err != nil {
		return nil, err
	}
	return StatusReport{
		Phase:          st.Phase.String(),
		Adapter:        st.Adapter.String(),
		ClientID:       st.ClientID,
		Scanning:       st.Scanning,
		Buffered:       st.Buffered,
		CompletedScans: st.CompletedScans,
	}, nil
}

func (s *Service) results(ctx context.Context, raw []byte, stream *ipc.Stream) error {
	events := make(chan []string, subscriberBuffer)
	superseded := make(chan struct{})
	var id int
	err := s.loop.Call(ctx, func() error {
		if s.detach != nil {
			s.detach()
		}
		s.subID++
		id = s.subID
		s.detach = func() { close(superseded) }
		s.provider.RegisterResultCallback(func(tokens []string) {
			select {
			case events <- tokens:
			default:
				log.Warnw("results subscriber is behind, dropping scan", "subscriber", id)
			}
		})
		return nil
	})
	if err != nil {
		return err
	}
	defer s.loop.Post(func() {
		if s.subID == id {
			s.detach = nil
			s.provider.RegisterResultCallback(nil)
			log.Infow("results subscriber detached", "subscriber", id)
		}
	})
	if err := stream.Accept(); err != nil {
		return err
	}
	log.Infow("results subscriber attached", "subscriber", id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-superseded:
			log.Infow("results subscriber replaced by a newer one", "subscriber", id)
			return nil
		case tokens := <-events:
			if err := stream.Send(eventScanResult, ResultsEvent{Tokens: tokens}); err != nil {
				return err
			}
		}
	}
}

func withWireCode(err error) error {
	switch errors.Cause(err) {
	case nil:
		return nil
	case ErrNotReady:
		return ipc.WithCode(err, codeNotReady)
	case ErrAlreadyScanning:
		return ipc.WithCode(err, codeAlreadyScanning)
	case ErrBadDuration:
		return ipc.WithCode(err, ipc.CodeBadParameter)
	}
	return err
}

func fromWireCode(err error) error {
	switch ipc.ErrorCode(err) {
	case codeNotReady:
		return errors.Wrap(ErrNotReady, err.Error())
	case codeAlreadyScanning:
		return errors.Wrap(ErrAlreadyScanning, err.Error())
	case ipc.CodeBadParameter:
		return errors.Wrap(ErrBadDuration, err.Error())
	}
	return err
}
