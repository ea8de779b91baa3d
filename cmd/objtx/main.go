package main

import (
	"fmt"
	"os"

	"github.com/nokeedev/objtx/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.ExecuteWithVersion(version); err != nil {
		fmt.Fprintf(os.Stderr, "objtx: %v\n", err)
		os.Exit(1)
	}
}
