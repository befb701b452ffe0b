package main

import (
	"os"

	"github.com/nmelkov/persona-matcher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
