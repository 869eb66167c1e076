package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mel2oo/netshark/engine"
)

var statCmd = &cobra.Command{
	Use:   "stat <capture-file> [kind]",
	Short: "Print capture statistics as JSON (kind: protocol, ip_class, http, host)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst := engine.New(opts.Engine)
		defer inst.Shutdown()

		if _, err := inst.OpenFile(args[0]); err != nil {
			return err
		}

		kind := ""
		if len(args) == 2 {
			kind = args[1]
		}
		raw, err := inst.Stat(kind)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	},
}
