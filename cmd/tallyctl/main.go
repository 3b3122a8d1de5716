// Command tallyctl administers tally accounts, usage and reconciliation.
//
// Usage:
//
//	tallyctl account create user-1 --ceiling 5
//	tallyctl balance get user-1
//	tallyctl usage summary user-1 --from 2026-01-01
//	tallyctl verify user-1 user-2
//	tallyctl reconcile --limit 100
package main

import (
	"fmt"
	"os"

	"github.com/davidbz/tally/internal/app"
)

func main() {
	if err := newRootCmd(app.BuildContainer).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
