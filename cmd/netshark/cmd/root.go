// Package cmd wires the netshark CLI: a thin presentation layer over the
// engine's command channel, suitable for inspecting a capture from a
// terminal while the real UI speaks to the same Instance in-process.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mel2oo/netshark/config"
	"github.com/mel2oo/netshark/logger"
)

var (
	configPath string
	opts       config.Options
)

var rootCmd = &cobra.Command{
	Use:          "netshark",
	Short:        "Dissect PCAP/PCAPNG captures into protocol trees and conversations",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		opts, err = config.LoadOptions(configPath)
		if err != nil {
			return err
		}
		logger.SetOptions(opts.Logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(statCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
