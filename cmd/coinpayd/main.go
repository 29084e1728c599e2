package main

import (
	"go.coinpayportal.com/engine/internal/cli"
	"os"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
