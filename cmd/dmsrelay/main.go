// Command dmsrelay runs the DMS web-chat relay.
package main

import (
	"fmt"
	"os"

	"dmsrelay/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
