package main

import (
	"context"
	"strings"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/daemon"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/navigator"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/spf13/cobra"
)

const ctlTimeout = 5 * time.Second

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Send a command to a running navigator",
}

// withRemote connects to the navigator and runs fn against it.
func withRemote(cmd *cobra.Command, fn func(ctx context.Context, r *navigator.Remote) error) error {
	comm, err := daemon.Setup(cmd.Flags())
	if err != nil {
		return err
	}
	defer comm.Cancel()
	dir, err := comm.Directory()
	if err != nil {
		return err
	}
	ctx, cancel := comm.CallContext(ctlTimeout)
	defer cancel()
	client, err := ipc.Connect(ctx, dir, util.NavigatorServiceName)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, navigator.NewRemote(client))
}

var ctlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start periodic scanning",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		interval, _ := cmd.Flags().GetDuration("interval")
		return withRemote(cmd, func(ctx context.Context, r *navigator.Remote) error {
			return r.Start(ctx, duration, interval)
		})
	},
}

var ctlStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop periodic scanning",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, func(ctx context.Context, r *navigator.Remote) error {
			return r.Stop(ctx)
		})
	},
}

var ctlModeCmd = &cobra.Command{
	Use:   "mode find|locate",
	Short: "Change operating mode; scanning stops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, func(ctx context.Context, r *navigator.Remote) error {
			return r.ChangeMode(ctx, args[0])
		})
	},
}

var ctlIdentifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Show the identify marker and run one scan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, func(ctx context.Context, r *navigator.Remote) error {
			return r.Identify(ctx)
		})
	},
}

var ctlStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the navigator state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, func(ctx context.Context, r *navigator.Remote) error {
			st, err := r.Status(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("scanning:       %s\n", st.Scanning)
			cmd.Printf("mode:           %s\n", st.Mode)
			cmd.Printf("duration:       %s\n", time.Duration(st.Duration)*time.Millisecond)
			cmd.Printf("interval:       %s\n", time.Duration(st.Interval)*time.Millisecond)
			cmd.Printf("bluescan:       %s\n", connected(st.Scanner))
			cmd.Printf("screen:         %s\n", connected(st.Display))
			cmd.Printf("cycle running:  %t\n", st.InFlight)
			cmd.Printf("cycles:         %d\n", st.Cycles)
			cmd.Printf("positions lost: %d\n", st.PositionsLost)
			if st.LastLocation != "" {
				cmd.Printf("last location:  %s\n", st.LastLocation)
			}
			if len(st.LastBeacons) > 0 {
				cmd.Printf("last beacons:   %s\n", strings.Join(st.LastBeacons, " "))
			}
			return nil
		})
	},
}

func connected(ok bool) string {
	if ok {
		return "connected"
	}
	return "waiting"
}

func init() {
	ctlStartCmd.Flags().Duration("duration", util.DefaultScanDuration, "length of each scan")
	ctlStartCmd.Flags().Duration("interval", 5*time.Second, "time between scans")
	ctlCmd.AddCommand(ctlStartCmd, ctlStopCmd, ctlModeCmd, ctlIdentifyCmd, ctlStatusCmd)
}
