// Package config holds the settings shared by the bluescan, screen and
// navigator daemons. A single YAML file configures all three.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/facebookgo/atomicfile"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var log = logging.Logger("config")

const (
	// Root is the per-user directory holding the config file and sockets
	Root = "~/.blenav"
	// DefaultFinderURL is the FIND server track endpoint used when none is configured
	DefaultFinderURL = "http://127.0.0.1:8003/track"

	defaultConfigFile = "config.yaml"
	defaultSocketDir  = "run"
)

// Discovery selects how capability names are mapped to endpoints
type Discovery string

const (
	// DiscoverySocket looks services up as unix sockets in SocketDir
	DiscoverySocket Discovery = "socket"
	// DiscoveryMDNS looks services up with multicast DNS on the local network
	DiscoveryMDNS Discovery = "mdns"
)

// Bluescan configures the scan provider daemon.
type Bluescan struct {
	MaxBeacons   int           `yaml:"max_beacons"`
	AdapterRetry time.Duration `yaml:"adapter_retry"`
	// ListenPort is the TCP port announced over mDNS; 0 picks a free port
	ListenPort int `yaml:"listen_port"`
}

// Navigator configures the orchestrator daemon.
type Navigator struct {
	Mode           string        `yaml:"mode"`
	ScanDuration   time.Duration `yaml:"scan_duration"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	Autostart      bool          `yaml:"autostart"`
	DiscoveryRetry time.Duration `yaml:"discovery_retry"`
	ListenPort     int           `yaml:"listen_port"`
}

// Finder configures the fingerprint resolution endpoint and the metadata
// attached to fingerprints in locate mode.
type Finder struct {
	URL      string        `yaml:"url"`
	Group    string        `yaml:"group"`
	Username string        `yaml:"username"`
	Location string        `yaml:"location"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Screen configures the display sink daemon.
type Screen struct {
	Columns    int `yaml:"columns"`
	Rows       int `yaml:"rows"`
	ListenPort int `yaml:"listen_port"`
}

// Config is the root of the config file.
type Config struct {
	LogLevel  string    `yaml:"log_level"`
	SocketDir string    `yaml:"socket_dir"`
	Discovery Discovery `yaml:"discovery"`
	Bluescan  Bluescan  `yaml:"bluescan"`
	Navigator Navigator `yaml:"navigator"`
	Finder    Finder    `yaml:"finder"`
	Screen    Screen    `yaml:"screen"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		SocketDir: filepath.Join(Root, defaultSocketDir),
		Discovery: DiscoverySocket,
		Bluescan: Bluescan{
			MaxBeacons:   util.MaxScanBeacons,
			AdapterRetry: util.AdapterRetryDelay,
		},
		Navigator: Navigator{
			Mode:           models.Locate.String(),
			ScanDuration:   util.DefaultScanDuration,
			ScanInterval:   5 * time.Second,
			DiscoveryRetry: util.DiscoveryRetryDelay,
		},
		Finder: Finder{
			URL:      DefaultFinderURL,
			Group:    "acbeacons",
			Username: "navigator",
			Location: "CTI",
			Timeout:  util.FinderTimeout,
		},
		Screen: Screen{
			Columns: 16,
			Rows:    6,
		},
	}
}

// DefaultPath returns the expanded location of the config file.
func DefaultPath() (string, error) {
	return ExpandPath(filepath.Join(Root, defaultConfigFile))
}

// ExpandPath resolves a leading ~ and cleans the path.
func ExpandPath(p string) (string, error) {
	return homedir.Expand(filepath.Clean(p))
}

// Load reads the config file at path on top of the defaults. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "expand config path issue")
	}
	data, err := os.ReadFile(expanded)
	if os.IsNotExist(err) {
		log.Debugf("no config at %s, using defaults", expanded)
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read config issue")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s issue", expanded)
	}
	return cfg, cfg.Validate()
}

// Write stores cfg at path atomically, creating parent directories.
func Write(path string, cfg *Config) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return errors.Wrap(err, "expand config path issue")
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0775); err != nil {
		return errors.Wrap(err, "create config dir issue")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config issue")
	}
	f, err := atomicfile.New(expanded, 0660)
	if err != nil {
		return errors.Wrap(err, "open config issue")
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return errors.Wrap(err, "write config issue")
	}
	return f.Close()
}

// Validate rejects settings the daemons cannot run with.
func (c *Config) Validate() error {
	if _, err := models.ParseOperatingMode(c.Navigator.Mode); err != nil {
		return errors.Wrap(err, "navigator.mode")
	}
	if c.Discovery != DiscoverySocket && c.Discovery != DiscoveryMDNS {
		return errors.Errorf("discovery must be %q or %q, got %q", DiscoverySocket, DiscoveryMDNS, c.Discovery)
	}
	if c.Bluescan.MaxBeacons <= 0 {
		return errors.New("bluescan.max_beacons must be positive")
	}
	if c.Bluescan.AdapterRetry <= 0 || c.Navigator.DiscoveryRetry <= 0 {
		return errors.New("retry delays must be positive")
	}
	if c.Navigator.ScanDuration <= 0 || c.Navigator.ScanInterval <= 0 {
		return errors.New("navigator.scan_duration and navigator.scan_interval must be positive")
	}
	if c.Finder.URL == "" {
		return errors.New("finder.url is required")
	}
	if c.Finder.Timeout <= 0 {
		return errors.New("finder.timeout must be positive")
	}
	if c.Screen.Columns <= 0 || c.Screen.Rows <= 0 {
		return errors.New("screen.columns and screen.rows must be positive")
	}
	return nil
}

// Mode returns the configured initial operating mode.
func (c *Config) Mode() models.OperatingMode {
	m, _ := models.ParseOperatingMode(c.Navigator.Mode)
	return m
}

// SocketPath returns the unix socket path of a named service.
func (c *Config) SocketPath(service string) (string, error) {
	dir, err := ExpandPath(c.SocketDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, service+".sock"), nil
}
