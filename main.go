package main

import (
	"os"

	"github.com/arjunmehta/filedex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
