package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/haukened/egress-guard/internal/guard/config"
	"github.com/haukened/egress-guard/internal/guard/repos/blockregistry"
)

// RunBlocks handles the "blocks" command.
func RunBlocks(cfg *config.AppConfig, args []string, out io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	if cfg.StateDB == "" {
		return fmt.Errorf("block registry disabled (state_db is empty)")
	}
	reg, err := blockregistry.Open(cfg.StateDB)
	if err != nil {
		return err
	}
	defer reg.Close()

	recs, err := reg.List()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No recorded blocks.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tHOSTNAME\tBLOCKED AT")
	for _, r := range recs {
		host := r.Hostname
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Addr, host, r.BlockedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
