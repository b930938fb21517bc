// Command ledgerctl is the operator CLI for the repayment ledger: schedule
// previews, ledger inspection and one-off late-fee sweeps.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}
