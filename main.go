package main

import (
	"os"

	"github.com/mattchengg/fusgo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
