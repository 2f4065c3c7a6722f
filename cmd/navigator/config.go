package main

import (
	"os"

	"github.com/Krajiyah/ble-navigator/pkg/config"
	"github.com/Krajiyah/ble-navigator/pkg/daemon"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the shared config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := daemon.ConfigPath(cmd.Flags())
		if err != nil {
			return err
		}
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(expanded); err == nil && !force {
			return errors.Errorf("%s already exists, use --force to overwrite", expanded)
		}
		if err := config.Write(expanded, config.Default()); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", expanded)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
