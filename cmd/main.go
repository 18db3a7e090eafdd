// cmd/main.go is the application entry point.
// It hands control to the cobra command tree in internal/cli.
package main

import (
	"os"

	"github.com/Shivanand-hulikatti/class-booking/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
