// Command egress-guardctl inspects the audit log and reverses blocks.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/config"
)

const usage = `Usage: egress-guardctl <command> [flags]

Commands:
  query     search the audit log
  unblock   remove the DROP rule for an address and its audit entries
  blocks    list addresses recorded in the block registry

Configuration is read from GUARD_* environment variables and GUARD_CONFIG_FILE,
the same as egress-guardd.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	// keep stdout clean for results; diagnostics only when something is wrong
	if err := log.Configure(cfg.Env, "warn", cfg.LogFile); err != nil {
		fmt.Fprintf(stderr, "Logging configuration error: %v\n", err)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "query":
		err = RunQuery(cfg, rest, stdout)
	case "unblock":
		err = RunUnblock(cfg, rest, stdout)
	case "blocks":
		err = RunBlocks(cfg, rest, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}
