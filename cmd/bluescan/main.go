package main

import (
	"fmt"
	"os"

	"github.com/Krajiyah/ble-navigator/pkg/bluescan"
	"github.com/Krajiyah/ble-navigator/pkg/daemon"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var log = logging.Logger("cmd")

var rootCmd = &cobra.Command{
	Use:   "bluescan",
	Short: "BLE scan provider daemon",
	Long: `
Owns the bluetooth adapter and serves timed beacon scans to the navigator.
	`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		comm, err := daemon.Setup(cmd.Flags())
		if err != nil {
			return err
		}
		cfg := comm.Config
		if cmd.Flags().Changed("max-beacons") {
			cfg.Bluescan.MaxBeacons, _ = cmd.Flags().GetInt("max-beacons")
		}

		stack := bluescan.NewHCIStack(comm.Loop)
		// comm.Run returns only once the loop has stopped.
		defer stack.Close()
		provider := bluescan.NewProvider(comm.Loop, stack,
			bluescan.WithMaxBeacons(cfg.Bluescan.MaxBeacons),
			bluescan.WithAdapterRetry(cfg.Bluescan.AdapterRetry),
		)
		srv := ipc.NewServer(util.BluescanServiceName)
		bluescan.NewService(srv, comm.Loop, provider)
		announcement, err := comm.Listen(srv, cfg.Bluescan.ListenPort)
		if err != nil {
			daemon.Fatal("could not listen", err)
		}
		comm.Loop.Post(provider.Init)
		log.Infow("bluescan starting", "max_beacons", cfg.Bluescan.MaxBeacons)
		return comm.Run(srv, announcement)
	},
}

func init() {
	daemon.AddFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().Int("max-beacons", util.MaxScanBeacons, "most beacons reported per scan")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
