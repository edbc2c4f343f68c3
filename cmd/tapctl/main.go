// Command tapctl is the meshtap operator CLI: dead-letter inspection,
// backup replay, and offline pattern-catalog validation. Each
// subcommand owns its own flag.FlagSet.
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

	var err error
	switch os.Args[1] {
	case "dlq":
		err = runDLQ(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "patterns":
		err = runPatterns(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "tapctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tapctl <command> [flags]

commands:
  dlq list        list descriptors in the dead-letter list
  dlq requeue     requeue a dead-lettered descriptor by fingerprint
  backup replay   reinstall a backup file's descriptors against a mock server
  patterns validate   check a pattern-catalog config for well-formedness`)
}
