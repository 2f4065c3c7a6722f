// Package finder sends scan fingerprints to a FIND-style tracking server and
// classifies its answers.
package finder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"golang.org/x/net/context/ctxhttp"
)

var log = logging.Logger("finder")

const (
	// RequestIDHeader carries the id that ties client and server logs together.
	RequestIDHeader = "X-Request-ID"
	maxBodySize     = 1 << 20
)

var (
	// ErrRejected means the server answered with a status other than 200
	ErrRejected = errors.New("finder rejected fingerprint")
	// ErrMalformed means the 200 response body could not be decoded
	ErrMalformed = errors.New("finder response malformed")
)

// Outcome classifies a Resolution.
type Outcome int

const (
	Located Outcome = iota
	Unknown
	Rejected
	Malformed
	Transport
)

func (o Outcome) String() string {
	switch o {
	case Located:
		return "located"
	case Unknown:
		return "unknown"
	case Rejected:
		return "rejected"
	case Malformed:
		return "malformed"
	case Transport:
		return "transport"
	}
	return "invalid"
}

// Resolution is the result of one round trip.
type Resolution struct {
	RequestID string
	Status    int
	Location  string
	Found     bool
	Err       error
}

// Outcome tells a located answer apart from every way of not getting one.
func (r Resolution) Outcome() Outcome {
	switch {
	case r.Err == nil && r.Found:
		return Located
	case r.Err == nil:
		return Unknown
	case errors.Cause(r.Err) == ErrRejected:
		return Rejected
	case errors.Cause(r.Err) == ErrMalformed:
		return Malformed
	}
	return Transport
}

type trackResponse struct {
	Location *string `json:"location"`
}

// Client posts fingerprints to one endpoint.
type Client struct {
	url   string
	http  *http.Client
	sched loop.Scheduler
}

// NewClient returns a client for url. Each request is bounded by timeout;
// a timeout is reported like any other transport failure.
func NewClient(url string, timeout time.Duration, sched loop.Scheduler) *Client {
	if timeout <= 0 {
		timeout = util.FinderTimeout
	}
	return &Client{
		url:   url,
		http:  &http.Client{Timeout: timeout},
		sched: sched,
	}
}

// URL returns the endpoint.
func (c *Client) URL() string { return c.url }

// Resolve posts doc and waits for the answer. It never panics on server
// behaviour; every failure ends up in Resolution.Err.
func (c *Client) Resolve(ctx context.Context, doc Fingerprint) Resolution {
	res := Resolution{RequestID: uuid.New().String()}
	body, err := json.Marshal(doc)
	if err != nil {
		res.Err = errors.Wrap(err, "fingerprint encode issue")
		return res
	}
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		res.Err = errors.Wrap(err, "finder request issue")
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, res.RequestID)

	resp, err := ctxhttp.Do(ctx, c.http, req)
	if err != nil {
		res.Err = errors.Wrap(err, "finder transport issue")
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	payload, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		res.Err = errors.Wrap(err, "finder transport issue")
		return res
	}
	if resp.StatusCode != http.StatusOK {
		res.Err = errors.Wrapf(ErrRejected, "status %d", resp.StatusCode)
		return res
	}
	var tr trackResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		res.Err = errors.Wrap(ErrMalformed, err.Error())
		return res
	}
	if tr.Location != nil && *tr.Location != "" {
		res.Found = true
		res.Location = *tr.Location
	}
	return res
}

// Submit resolves doc off the loop and runs done with the result on it.
func (c *Client) Submit(doc Fingerprint, done func(Resolution)) {
	c.sched.Go(func() func() {
		res := c.Resolve(context.Background(), doc)
		log.Debugw("finder answered", "request", res.RequestID, "status", res.Status, "outcome", res.Outcome().String())
		return func() { done(res) }
	})
}
