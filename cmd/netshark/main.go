package main

import (
	"fmt"
	"os"

	"github.com/mel2oo/netshark/cmd/netshark/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
