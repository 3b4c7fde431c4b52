// Command flowrunner is the entry point for the flow execution service.
package main

import (
	"fmt"
	"os"

	"flowrunner.dev/flowrunner/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
