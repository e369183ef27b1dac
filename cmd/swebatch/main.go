package main

import (
	"fmt"
	"os"
)

// Exit codes for different failure modes. Individual task failures do not
// produce a nonzero exit: the batch always completes and reports a summary
// unless a fatal configuration error occurred before any work ran.
const (
	ExitSuccess     = 0
	ExitConfigError = 2
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfigError)
	}
}
