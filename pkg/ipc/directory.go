package ipc

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Endpoint is a dialable address.
type Endpoint struct {
	Network string
	Address string
}

func (e Endpoint) String() string { return e.Network + "://" + e.Address }

// Directory maps service names to endpoints.
type Directory interface {
	Lookup(ctx context.Context, name string) (Endpoint, error)
}

// SocketDirectory finds services as <Dir>/<name>.sock.
type SocketDirectory struct {
	Dir string
}

// Path returns the socket path for name.
func (d SocketDirectory) Path(name string) string {
	return filepath.Join(d.Dir, name+".sock")
}

// Endpoint returns the unix endpoint for name whether or not it exists yet.
func (d SocketDirectory) Endpoint(name string) Endpoint {
	return Endpoint{Network: "unix", Address: d.Path(name)}
}

// Lookup returns ErrNotFound until the service has bound its socket.
func (d SocketDirectory) Lookup(ctx context.Context, name string) (Endpoint, error) {
	path := d.Path(name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Endpoint{}, errors.Wrap(ErrNotFound, name)
	}
	if err != nil {
		return Endpoint{}, errors.Wrap(err, "socket stat issue")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return Endpoint{}, errors.Errorf("%s is not a socket", path)
	}
	return d.Endpoint(name), nil
}
