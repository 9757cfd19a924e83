package main

import (
	"fmt"
	"os"

	"github.com/TungSeven30/henrii-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
