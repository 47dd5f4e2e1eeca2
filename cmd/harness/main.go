package main

import (
	"fmt"
	"os"
)

var exit = os.Exit

func main() {
	exit(Execute())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
