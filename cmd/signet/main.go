// Command signet is the operational entry point to the signing core:
// it verifies sealed artifacts and audit chains, exports evidence, and
// runs a complete demo signing flow against in-process services.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Split from main for tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "verify-seal":
		return runVerifySeal(args[2:], stdout, stderr)
	case "verify-chain":
		return runVerifyChain(args[2:], stdout, stderr)
	case "export-trail":
		return runExportTrail(args[2:], stdout, stderr)
	case "demo":
		return runDemo(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "signet", engineVersion())
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: signet <command> [flags]

Commands:
  verify-seal   Verify a sealed artifact's metadata block and signature
  verify-chain  Recompute and check an envelope's audit hash chain
  export-trail  Export an envelope's audit trail (json, csv or timeline)
  demo          Run a complete signing flow against in-process services
  version       Print the engine version`)
}
