package main

import (
	"fmt"
	"os"

	"github.com/Krajiyah/ble-navigator/pkg/bluescan"
	"github.com/Krajiyah/ble-navigator/pkg/daemon"
	"github.com/Krajiyah/ble-navigator/pkg/finder"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/locator"
	"github.com/Krajiyah/ble-navigator/pkg/navigator"
	"github.com/Krajiyah/ble-navigator/pkg/screen"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var log = logging.Logger("cmd")

var rootCmd = &cobra.Command{
	Use:   "navigator",
	Short: "Indoor positioning daemon",
	Long: `
Scans for beacons on an interval through the bluescan daemon, resolves the
fingerprint and shows the result on the screen daemon.
	`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	comm, err := daemon.Setup(cmd.Flags())
	if err != nil {
		return err
	}
	cfg := comm.Config
	if cmd.Flags().Changed("autostart") {
		cfg.Navigator.Autostart, _ = cmd.Flags().GetBool("autostart")
	}
	dir, err := comm.Directory()
	if err != nil {
		return err
	}

	l := comm.Loop
	loc := locator.New(l, daemon.Connector(dir), locator.WithRetryDelay(cfg.Navigator.DiscoveryRetry))
	n := navigator.New(l, navigator.Deps{
		Locator: loc,
		Finder:  finder.NewClient(cfg.Finder.URL, cfg.Finder.Timeout, l),
		NewScanner: func(h locator.Handle) navigator.Scanner {
			return bluescan.NewRemote(h.(*ipc.Client), l)
		},
		NewDisplay: func(h locator.Handle) screen.Display {
			return screen.NewRemote(h.(*ipc.Client))
		},
	}, navigator.Settings{
		Mode:     cfg.Mode(),
		Duration: cfg.Navigator.ScanDuration,
		Interval: cfg.Navigator.ScanInterval,
		Metadata: finder.Metadata{
			Group:    cfg.Finder.Group,
			Username: cfg.Finder.Username,
			Location: cfg.Finder.Location,
		},
		Autostart:      cfg.Navigator.Autostart,
		ReconnectDelay: cfg.Navigator.DiscoveryRetry,
	})

	srv := ipc.NewServer(util.NavigatorServiceName)
	navigator.Serve(srv, l, n)
	announcement, err := comm.Listen(srv, cfg.Navigator.ListenPort)
	if err != nil {
		daemon.Fatal("could not listen", err)
	}
	l.Post(n.Init)
	log.Infow("navigator starting", "finder", cfg.Finder.URL, "discovery", string(cfg.Discovery))
	return comm.Run(srv, announcement)
}

func init() {
	daemon.AddFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().Bool("autostart", false, "start scanning without waiting for a start command")
	rootCmd.AddCommand(ctlCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
