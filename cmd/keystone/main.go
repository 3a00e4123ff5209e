package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "rotate":
		os.Exit(runRotate(args))
	case "revoke":
		os.Exit(runRevoke(args))
	case "report":
		os.Exit(runReport(args))
	case "verify-chain":
		os.Exit(runVerifyChain(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: keystone <command> [flags]

commands:
  serve         run the key lifecycle service
  rotate        start a key rotation against a running service
  revoke        revoke a token or all tokens of an account
  report        fetch a compliance report
  verify-chain  verify the audit chain of a running service`)
}
