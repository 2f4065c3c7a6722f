package ipc

import "github.com/fxamacker/cbor/v2"

const (
	actionKey = "action"
	// watchAction is served by every Server; the connection stays open for
	// the lifetime of the server and its closure signals loss.
	watchAction = "watch"
	maxFrameSize = 1 << 20
)

// Response is the reply envelope of every request.
type Response struct {
	OK    bool            `cbor:"ok"`
	Error string          `cbor:"error,omitempty"`
	Code  string          `cbor:"code,omitempty"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
}

// Event is one frame pushed by the server over an open stream.
type Event struct {
	Name string          `cbor:"event"`
	Data cbor.RawMessage `cbor:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return Unmarshal(e.Data, v)
}

type requestHeader struct {
	Action string `cbor:"action"`
}

func buildRequest(action string, fields map[string]interface{}) map[string]interface{} {
	request := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		request[k] = v
	}
	request[actionKey] = action
	return request
}
