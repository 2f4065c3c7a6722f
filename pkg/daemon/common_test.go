package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/config"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/spf13/pflag"
	"gotest.tools/assert"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	assert.NilError(t, fs.Parse(args))
	return fs
}

func TestSetupAppliesFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	assert.NilError(t, config.Write(path, config.Default()))

	c, err := Setup(flags(t, "--config", path, "--socket-dir", dir, "--log-level", "debug"))
	assert.NilError(t, err)
	defer c.Cancel()
	assert.Equal(t, c.Config.SocketDir, dir)
	assert.Equal(t, c.Config.LogLevel, "debug")

	d, err := c.Directory()
	assert.NilError(t, err)
	assert.Equal(t, d, ipc.Directory(ipc.SocketDirectory{Dir: dir}))
}

func TestSetupRejectsBadDiscovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Setup(flags(t, "--config", path, "--discovery", "carrier-pigeon"))
	assert.ErrorContains(t, err, "discovery")
}

func TestListenAndConnect(t *testing.T) {
	dir := t.TempDir()
	c, err := Setup(flags(t, "--config", filepath.Join(dir, "none.yaml"), "--socket-dir", dir))
	assert.NilError(t, err)
	defer c.Cancel()

	srv := ipc.NewServer("echo")
	srv.Handle("ping", func(ctx context.Context, raw []byte) (interface{}, error) {
		return "pong", nil
	})
	announcement, err := c.Listen(srv, 0)
	assert.NilError(t, err)
	assert.Assert(t, announcement == nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(srv, announcement) }()

	d, err := c.Directory()
	assert.NilError(t, err)
	h, err := Connector(d)(c.Context, "echo")
	assert.NilError(t, err)
	assert.Equal(t, h.Name(), "echo")

	var reply string
	assert.NilError(t, h.(*ipc.Client).Call(c.Context, "ping", nil, &reply))
	assert.Equal(t, reply, "pong")
	assert.NilError(t, h.Close())

	c.Cancel()
	assert.NilError(t, <-done)
}

func TestRunReturnsAfterLoopStops(t *testing.T) {
	dir := t.TempDir()
	c, err := Setup(flags(t, "--config", filepath.Join(dir, "none.yaml"), "--socket-dir", dir))
	assert.NilError(t, err)
	defer c.Cancel()

	srv := ipc.NewServer("busy")
	announcement, err := c.Listen(srv, 0)
	assert.NilError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	c.Loop.Post(func() {
		close(entered)
		<-release
	})
	done := make(chan error, 1)
	go func() { done <- c.Run(srv, announcement) }()
	<-entered

	c.Cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a loop callback was still running")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)
	assert.NilError(t, <-done)
}
