package screen

import (
	"context"

	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/pkg/errors"
)

const (
	actionDisplayText     = "display_text"
	actionDisplayCentered = "display_centered"
	actionPositionLost    = "position_lost"
	actionLines           = "lines"
)

type displayTextRequest struct {
	Text string `cbor:"text"`
	X    int    `cbor:"x"`
	Y    int    `cbor:"y"`
}

type displayCenteredRequest struct {
	Text string `cbor:"text"`
}

// Serve binds r onto srv.
func Serve(srv *ipc.Server, r *Renderer) {
	srv.Handle(actionDisplayText, func(ctx context.Context, raw []byte) (interface{}, error) {
		var req displayTextRequest
		if err := ipc.Unmarshal(raw, &req); err != nil {
			return nil, ipc.WithCode(errors.Wrap(err, "bad display_text request"), ipc.CodeBadParameter)
		}
		err := r.DisplayText(req.Text, req.X, req.Y)
		if errors.Cause(err) == ErrOffScreen {
			return nil, ipc.WithCode(err, ipc.CodeBadParameter)
		}
		return nil, err
	})
	srv.Handle(actionDisplayCentered, func(ctx context.Context, raw []byte) (interface{}, error) {
		var req displayCenteredRequest
		if err := ipc.Unmarshal(raw, &req); err != nil {
			return nil, ipc.WithCode(errors.Wrap(err, "bad display_centered request"), ipc.CodeBadParameter)
		}
		return nil, r.DisplayCentered(req.Text)
	})
	srv.Handle(actionPositionLost, func(ctx context.Context, raw []byte) (interface{}, error) {
		return nil, r.SignalPositionLost()
	})
	srv.Handle(actionLines, func(ctx context.Context, raw []byte) (interface{}, error) {
		return r.Lines(), nil
	})
}

// Remote is a Display reached over IPC.
type Remote struct {
	client *ipc.Client
}

// NewRemote wraps client.
func NewRemote(client *ipc.Client) *Remote {
	return &Remote{client: client}
}

func (r *Remote) call(action string, fields map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), ipc.CallTimeout)
	defer cancel()
	return r.client.Call(ctx, action, fields, nil)
}

func (r *Remote) DisplayText(text string, x, y int) error {
	return r.call(actionDisplayText, map[string]interface{}{"text": text, "x": x, "y": y})
}

func (r *Remote) DisplayCentered(text string) error {
	return r.call(actionDisplayCentered, map[string]interface{}{"text": text})
}

func (r *Remote) SignalPositionLost() error {
	return r.call(actionPositionLost, nil)
}

// Lines fetches the page currently shown.
func (r *Remote) Lines(ctx context.Context) ([]string, error) {
	var lines []string
	err := r.client.Call(ctx, actionLines, nil, &lines)
	return lines, err
}
