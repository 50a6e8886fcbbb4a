package main

import (
	"os"

	"github.com/EphraimElvis/coralite-io/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
