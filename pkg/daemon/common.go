// Package daemon holds the wiring shared by the bluescan, screen and
// navigator binaries: config loading, log levels, service discovery and the
// listen/serve lifecycle.
package daemon

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/clock"
	"github.com/Krajiyah/ble-navigator/pkg/config"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/locator"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

var log = logging.Logger("cmd")

const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagSocketDir = "socket-dir"
	flagDiscovery = "discovery"
)

// Common is what every daemon command works from.
type Common struct {
	Config  *config.Config
	Context context.Context
	Cancel  context.CancelFunc
	Loop    *loop.Loop
}

// AddFlags registers the flags every binary understands.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(flagConfig, "", "config file (default ~/.blenav/config.yaml)")
	fs.String(flagLogLevel, "", "log level: debug, info, warn, error")
	fs.String(flagSocketDir, "", "directory holding service sockets")
	fs.String(flagDiscovery, "", "service discovery: socket or mdns")
}

// ConfigPath returns the config path from fs or the default.
func ConfigPath(fs *pflag.FlagSet) (string, error) {
	if p, _ := fs.GetString(flagConfig); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

// Setup loads the config, applies flag overrides and log levels, and returns
// a Common whose context is cancelled on SIGINT or SIGTERM.
func Setup(fs *pflag.FlagSet) (*Common, error) {
	path, err := ConfigPath(fs)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if fs.Changed(flagLogLevel) {
		cfg.LogLevel, _ = fs.GetString(flagLogLevel)
	}
	if fs.Changed(flagSocketDir) {
		cfg.SocketDir, _ = fs.GetString(flagSocketDir)
	}
	if fs.Changed(flagDiscovery) {
		d, _ := fs.GetString(flagDiscovery)
		cfg.Discovery = config.Discovery(d)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Infow("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return &Common{
		Config:  cfg,
		Context: ctx,
		Cancel:  cancel,
		Loop:    loop.New(clock.Real()),
	}, nil
}

// Directory returns the configured service directory.
func (c *Common) Directory() (ipc.Directory, error) {
	if c.Config.Discovery == config.DiscoveryMDNS {
		return ipc.MDNSDirectory{}, nil
	}
	return c.socketDirectory()
}

func (c *Common) socketDirectory() (ipc.SocketDirectory, error) {
	dir, err := config.ExpandPath(c.Config.SocketDir)
	if err != nil {
		return ipc.SocketDirectory{}, errors.Wrap(err, "socket dir issue")
	}
	return ipc.SocketDirectory{Dir: dir}, nil
}

// Connector returns a locator.ConnectFunc dialing through dir.
func Connector(dir ipc.Directory) locator.ConnectFunc {
	return func(ctx context.Context, name string) (locator.Handle, error) {
		client, err := ipc.Connect(ctx, dir, name)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Listen binds srv where its peers will look for it. With mDNS discovery the
// service listens on TCP port (0 picks one) and is announced; the returned
// announcement is nil for sockets.
func (c *Common) Listen(srv *ipc.Server, port int) (*ipc.Announcement, error) {
	if c.Config.Discovery == config.DiscoveryMDNS {
		if err := srv.Listen(ipc.Endpoint{Network: "tcp", Address: net.JoinHostPort("0.0.0.0", strconv.Itoa(port))}); err != nil {
			return nil, err
		}
		return ipc.Announce(srv.Name(), srv.Port())
	}
	dir, err := c.socketDirectory()
	if err != nil {
		return nil, err
	}
	return nil, srv.Listen(dir.Endpoint(srv.Name()))
}

// Run drives the loop and srv until the context is cancelled. It returns
// once both have stopped.
func (c *Common) Run(srv *ipc.Server, announcement *ipc.Announcement) error {
	defer announcement.Shutdown()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := c.Loop.Run(c.Context); err != nil && errors.Cause(err) != context.Canceled {
			log.Errorw("loop stopped", "err", err)
		}
	}()
	log.Infow("serving", "service", srv.Name(), "endpoint", srv.Endpoint().String())
	err := srv.Serve(c.Context)
	// Callers close what the loop uses once Run returns.
	c.Cancel()
	<-stopped
	return err
}

// CallContext bounds a one-shot client command.
func (c *Common) CallContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, d)
}

// Fatal logs err and exits 1.
func Fatal(msg string, err error) {
	log.Errorw(msg, "err", err)
	os.Exit(1)
}
