package main

import (
	"os"

	"github.com/1274866478-stack/data-agent-sub005/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
