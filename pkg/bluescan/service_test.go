package bluescan

import (
	"context"
	"testing"
	"time"

	"github.com/Krajiyah/ble-navigator/internal"
	"github.com/Krajiyah/ble-navigator/pkg/clock"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

type remoteFixture struct {
	loop   *loop.Loop
	stack  *internal.FakeStack
	client *ipc.Client
	remote *Remote
}

func startRemote(t *testing.T, adapterOn bool) (*remoteFixture, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New(clock.Real())
	go l.Run(ctx)

	st := internal.NewFakeStack(l)
	st.AutoEnable = adapterOn
	p := NewProvider(l, st)
	assert.NilError(t, l.Call(ctx, func() error {
		p.Init()
		return nil
	}))

	srv := ipc.NewServer(util.BluescanServiceName)
	NewService(srv, l, p)
	dir := ipc.SocketDirectory{Dir: t.TempDir()}
	assert.NilError(t, srv.Listen(dir.Endpoint(util.BluescanServiceName)))
	served := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(served)
	}()

	client, err := ipc.Connect(ctx, dir, util.BluescanServiceName)
	assert.NilError(t, err)
	r := NewRemote(client, l)
	return &remoteFixture{loop: l, stack: st, client: client, remote: r}, func() {
		l.Call(context.Background(), r.Close)
		client.Close()
		cancel()
		<-served
	}
}

func (f *remoteFixture) onLoop(t *testing.T, fn func()) {
	assert.NilError(t, f.loop.Call(context.Background(), func() error {
		fn()
		return nil
	}))
}

// chanListener hands every subscription event to the test goroutine.
type chanListener struct {
	subscribed chan struct{}
	results    chan []string
	lost       chan error
}

func newChanListener() *chanListener {
	return &chanListener{
		subscribed: make(chan struct{}, 4),
		results:    make(chan []string, 4),
		lost:       make(chan error, 4),
	}
}

func (l *chanListener) OnSubscribed()                { l.subscribed <- struct{}{} }
func (l *chanListener) OnScanResult(tokens []string) { l.results <- tokens }
func (l *chanListener) OnSubscriptionLost(err error) { l.lost <- err }

func wait(t *testing.T, what string, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func (f *remoteFixture) listen(t *testing.T, r *Remote) *chanListener {
	l := newChanListener()
	f.onLoop(t, func() { r.SetResultListener(l) })
	wait(t, "subscription", l.subscribed)
	return l
}

func (f *remoteFixture) startScan(t *testing.T, d time.Duration) error {
	result := make(chan error, 1)
	f.onLoop(t, func() { f.remote.StartScan(d, func(err error) { result <- err }) })
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("start_scan never completed")
	}
	return nil
}

func (f *remoteFixture) stopScan(t *testing.T) error {
	result := make(chan error, 1)
	f.onLoop(t, func() { f.remote.StopScan(func(err error) { result <- err }) })
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("stop_scan never completed")
	}
	return nil
}

func TestRemoteScanDeliversTokens(t *testing.T) {
	f, stop := startRemote(t, true)
	defer stop()

	l := f.listen(t, f.remote)
	assert.NilError(t, f.startScan(t, 300*time.Millisecond))
	addr := internal.TestBeaconAddr(7)
	f.onLoop(t, func() { f.stack.Advertise(addr, -48) })

	select {
	case tokens := <-l.results:
		assert.DeepEqual(t, tokens, []string{addr + ",-48"})
	case <-time.After(5 * time.Second):
		t.Fatal("no scan result delivered")
	}

	report, err := f.remote.Status(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, report.Phase, "ready")
	assert.Equal(t, report.Adapter, "On")
	assert.Equal(t, report.CompletedScans, 1)
}

func TestRemoteErrorsKeepSentinels(t *testing.T) {
	f, stop := startRemote(t, true)
	defer stop()

	assert.Equal(t, errors.Cause(f.startScan(t, 0)), ErrBadDuration)
	assert.NilError(t, f.startScan(t, time.Minute))
	assert.Equal(t, errors.Cause(f.startScan(t, time.Second)), ErrAlreadyScanning)
	assert.NilError(t, f.stopScan(t))
	assert.NilError(t, f.startScan(t, time.Minute))
}

func TestRemoteNotReady(t *testing.T) {
	f, stop := startRemote(t, false)
	defer stop()

	err := f.startScan(t, time.Second)
	assert.Equal(t, errors.Cause(err), ErrNotReady)

	report, err := f.remote.Status(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, report.Phase, "waiting-for-adapter")
}

func TestNewestSubscriberWinsAndOldOneHearsAboutIt(t *testing.T) {
	f, stop := startRemote(t, true)
	defer stop()

	first := f.listen(t, f.remote)
	other := NewRemote(f.client, f.loop)
	second := f.listen(t, other)

	select {
	case err := <-first.lost:
		assert.Equal(t, errors.Cause(err), ErrResultsLost)
	case <-time.After(5 * time.Second):
		t.Fatal("replaced subscriber was not told")
	}

	assert.NilError(t, f.startScan(t, 100*time.Millisecond))
	select {
	case <-second.results:
	case <-time.After(5 * time.Second):
		t.Fatal("newest subscriber got nothing")
	}
	select {
	case <-first.results:
		t.Fatal("replaced subscriber still receives scans")
	default:
	}

	f.onLoop(t, func() { other.Close() })
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-second.lost:
		t.Fatalf("closing reported a loss: %v", err)
	default:
	}
}

func TestResubscribingFromOneProxyIsSilent(t *testing.T) {
	f, stop := startRemote(t, true)
	defer stop()

	first := f.listen(t, f.remote)
	second := f.listen(t, f.remote)
	assert.NilError(t, f.startScan(t, 100*time.Millisecond))
	select {
	case <-second.results:
	case <-time.After(5 * time.Second):
		t.Fatal("newest listener got nothing")
	}
	assert.Equal(t, len(first.lost), 0)
	assert.Equal(t, len(first.results), 0)
}

func TestRefusedSubscriptionIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New(clock.Real())
	go l.Run(ctx)

	srv := ipc.NewServer(util.BluescanServiceName)
	dir := ipc.SocketDirectory{Dir: t.TempDir()}
	assert.NilError(t, srv.Listen(dir.Endpoint(util.BluescanServiceName)))
	served := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(served)
	}()
	defer func() {
		cancel()
		<-served
	}()

	client, err := ipc.Connect(ctx, dir, util.BluescanServiceName)
	assert.NilError(t, err)
	defer client.Close()

	r := NewRemote(client, l)
	listener := newChanListener()
	assert.NilError(t, l.Call(ctx, func() error {
		r.SetResultListener(listener)
		return nil
	}))
	select {
	case err := <-listener.lost:
		assert.Equal(t, ipc.ErrorCode(err), ipc.CodeBadParameter)
	case <-time.After(5 * time.Second):
		t.Fatal("refused subscription was not reported")
	}
	assert.Equal(t, len(listener.subscribed), 0)
}
