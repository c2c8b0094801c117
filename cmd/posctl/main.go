package main

import (
	"fmt"
	"os"

	"dukapos/internal/config"
)

func main() {
	if err := newRootCmd(config.Load).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
