// Command fabricd runs the API Integration Fabric as a standalone process.
package main

import (
	"fmt"
	"os"

	"github.com/vitaliisemenov/apifabric/cmd/fabricd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
