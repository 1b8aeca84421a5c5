package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
