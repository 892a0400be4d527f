package main

import (
	"os"

	"github.com/porthorian/openauth-introspection/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
