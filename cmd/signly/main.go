// Package main is the entry point for signly.
package main

import (
	"fmt"
	"os"

	"signly/internal/cli"
)

func main() {
	cli.Init()

	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
