package ipc

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

const (
	// MDNSServiceType is the DNS-SD type every service announces under.
	MDNSServiceType = "_blenav._tcp"
	mdnsDomain      = "local."
	defaultBrowse   = 2 * time.Second
)

// MDNSDirectory resolves service instances announced on the local network.
type MDNSDirectory struct {
	Timeout time.Duration
}

// Lookup browses for the instance called name and returns its first IPv4
// address.
func (d MDNSDirectory) Lookup(ctx context.Context, name string) (Endpoint, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultBrowse
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Endpoint{}, errors.Wrap(err, "mdns resolver issue")
	}
	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Lookup(ctx, name, MDNSServiceType, mdnsDomain, entries); err != nil {
		return Endpoint{}, errors.Wrap(err, "mdns lookup issue")
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, errors.Wrap(ErrNotFound, name)
			}
			if entry == nil || len(entry.AddrIPv4) == 0 {
				log.Debugw("mdns entry without ipv4", "service", name)
				continue
			}
			addr := net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port))
			return Endpoint{Network: "tcp", Address: addr}, nil
		case <-ctx.Done():
			return Endpoint{}, errors.Wrap(ErrNotFound, name)
		}
	}
}

// Announcement is a running mDNS registration.
type Announcement struct {
	server *zeroconf.Server
}

// Announce registers the named service on port until Shutdown.
func Announce(name string, port int) (*Announcement, error) {
	server, err := zeroconf.Register(name, MDNSServiceType, mdnsDomain, port, []string{"txtv=0"}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "mdns register issue")
	}
	log.Infow("announced over mdns", "service", name, "port", port)
	return &Announcement{server: server}, nil
}

// Shutdown withdraws the announcement.
func (a *Announcement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}
