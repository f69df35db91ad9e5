// Command nexora runs the offline-first mirror and sync agent.
package main

import (
	"os"

	"github.com/10d3/nexora/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
