package finder

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Krajiyah/ble-navigator/internal"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestBareFingerprintJSON(t *testing.T) {
	b, err := json.Marshal(NewFingerprint(nil))
	assert.NilError(t, err)
	assert.Equal(t, string(b), `{"wifi-fingerprint":[]}`)

	b, err = json.Marshal(Fingerprint{})
	assert.NilError(t, err)
	assert.Equal(t, string(b), `{"wifi-fingerprint":[]}`)

	doc := NewFingerprint([]models.ScanResult{{Address: "AA:01", RSSI: -40}, {Address: "AA:00", RSSI: -60}})
	b, err = json.Marshal(doc)
	assert.NilError(t, err)
	assert.Equal(t, string(b), `{"wifi-fingerprint":[{"mac":"AA:01","rssi":-40},{"mac":"AA:00","rssi":-60}]}`)
}

func TestFingerprintWithMetadata(t *testing.T) {
	doc := NewFingerprint([]models.ScanResult{{Address: "AA:01", RSSI: -40}}).WithMetadata(Metadata{
		Group:    "acbeacons",
		Username: "navigator",
		Location: "CTI",
	}, time.Unix(1462060800, 0))
	b, err := json.Marshal(doc)
	assert.NilError(t, err)
	assert.Equal(t, string(b), `{"group":"acbeacons","username":"navigator","location":"CTI","time":1462060800,"wifi-fingerprint":[{"mac":"AA:01","rssi":-40}]}`)
}

type captured struct {
	contentType string
	requestID   string
	body        map[string]interface{}
}

func finderServer(t *testing.T, status int, reply string, seen *captured) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, http.MethodPost)
		if seen != nil {
			seen.contentType = r.Header.Get("Content-Type")
			seen.requestID = r.Header.Get(RequestIDHeader)
			raw, _ := ioutil.ReadAll(r.Body)
			json.Unmarshal(raw, &seen.body)
		}
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
}

func TestResolveLocated(t *testing.T) {
	var seen captured
	srv := finderServer(t, http.StatusOK, `{"success":true,"location":"Room 4"}`, &seen)
	defer srv.Close()

	l, _ := internal.NewTestLoop()
	c := NewClient(srv.URL, time.Second, l)
	doc := NewFingerprint(internal.TestBeacons(2)).WithMetadata(Metadata{Group: "g"}, internal.TestEpoch)
	res := c.Resolve(context.Background(), doc)

	assert.NilError(t, res.Err)
	assert.Equal(t, res.Outcome(), Located)
	assert.Equal(t, res.Location, "Room 4")
	assert.Equal(t, res.Status, http.StatusOK)
	assert.Equal(t, seen.contentType, "application/json")
	assert.Equal(t, seen.requestID, res.RequestID)
	assert.Equal(t, seen.body["group"], "g")
	assert.Equal(t, len(seen.body["wifi-fingerprint"].([]interface{})), 2)
	_, hasUser := seen.body["username"]
	assert.Assert(t, !hasUser)
}

func TestResolveOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reply  string
		want   Outcome
	}{
		{"missing location", http.StatusOK, `{}`, Unknown},
		{"empty location", http.StatusOK, `{"location":""}`, Unknown},
		{"server error", http.StatusInternalServerError, `{"location":"Room 4"}`, Rejected},
		{"not found", http.StatusNotFound, ``, Rejected},
		{"not json", http.StatusOK, `<html>`, Malformed},
		{"location not a string", http.StatusOK, `{"location":4}`, Malformed},
	}
	l, _ := internal.NewTestLoop()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := finderServer(t, tc.status, tc.reply, nil)
			defer srv.Close()
			res := NewClient(srv.URL, time.Second, l).Resolve(context.Background(), NewFingerprint(nil))
			assert.Equal(t, res.Outcome(), tc.want)
			assert.Equal(t, res.Status, tc.status)
			assert.Assert(t, !res.Found)
		})
	}
}

func TestResolveTimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	l, _ := internal.NewTestLoop()
	res := NewClient(srv.URL, 50*time.Millisecond, l).Resolve(context.Background(), NewFingerprint(nil))
	assert.Equal(t, res.Outcome(), Transport)
	assert.Assert(t, res.Err != nil)
	assert.Assert(t, res.RequestID != "")
}

func TestResolveConnectionRefusedIsTransport(t *testing.T) {
	srv := finderServer(t, http.StatusOK, `{}`, nil)
	url := srv.URL
	srv.Close()

	l, _ := internal.NewTestLoop()
	res := NewClient(url, time.Second, l).Resolve(context.Background(), NewFingerprint(nil))
	assert.Equal(t, res.Outcome(), Transport)
	assert.Assert(t, errors.Cause(res.Err) != ErrRejected)
}

func TestSubmitCompletesOnLoop(t *testing.T) {
	srv := finderServer(t, http.StatusOK, `{"location":"Lab"}`, nil)
	defer srv.Close()

	l, _ := internal.NewTestLoop()
	var got *Resolution
	NewClient(srv.URL, time.Second, l).Submit(NewFingerprint(nil), func(res Resolution) {
		got = &res
	})
	assert.Assert(t, got == nil)
	internal.Settle(l)
	assert.Assert(t, got != nil)
	assert.Equal(t, got.Location, "Lab")
}

func TestOutcomeNames(t *testing.T) {
	assert.Equal(t, Transport.String(), "transport")
	assert.Equal(t, Outcome(99).String(), "invalid")
}
