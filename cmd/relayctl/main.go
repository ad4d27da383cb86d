package main

import (
	"os"

	"github.com/chatrelay/chatrelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
