// Command sshkit runs commands and moves files over SSH using the sshkit library.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sshkit:", err)
		os.Exit(1)
	}
}
