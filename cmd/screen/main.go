package main

import (
	"fmt"
	"os"

	"github.com/Krajiyah/ble-navigator/pkg/daemon"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/screen"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "screen",
	Short: "Character display daemon",
	Long: `
Draws what the navigator sends on a character page written to stdout.
	`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		comm, err := daemon.Setup(cmd.Flags())
		if err != nil {
			return err
		}
		cfg := comm.Config.Screen
		r := screen.NewRenderer(cmd.OutOrStdout(), cfg.Columns, cfg.Rows)
		srv := ipc.NewServer(util.ScreenServiceName)
		screen.Serve(srv, r)
		announcement, err := comm.Listen(srv, cfg.ListenPort)
		if err != nil {
			daemon.Fatal("could not listen", err)
		}
		if err := r.Start(); err != nil {
			return err
		}
		return comm.Run(srv, announcement)
	},
}

func init() {
	daemon.AddFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
