package main

import (
	"os"

	"github.com/rebelopsio/pam-core/cmd/pam-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
