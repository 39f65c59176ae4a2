package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/haukened/egress-guard/internal/guard/config"
	"github.com/haukened/egress-guard/internal/guard/domain"
	"github.com/haukened/egress-guard/internal/guard/repos/auditlog"
)

const dateLayout = "2006-01-02"

// RunQuery handles the "query" command.
func RunQuery(cfg *config.AppConfig, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	fs.SetOutput(out)

	var (
		keyword, status, start, end string
		limit                       int
		newest                      bool
	)
	fs.StringVarP(&keyword, "keyword", "k", "", "filter by keyword in destination or resolved hostname")
	fs.StringVarP(&status, "status", "s", "", "filter by status (Blocked or Trusted)")
	fs.StringVar(&start, "start", "", "start date YYYY-MM-DD")
	fs.StringVar(&end, "end", "", "end date YYYY-MM-DD, inclusive")
	fs.IntVarP(&limit, "limit", "n", 0, "maximum number of entries, 0 for all")
	fs.BoolVar(&newest, "newest", false, "show most recent entries first")

	if err := fs.Parse(args); err != nil {
		return err
	}

	filter, err := buildFilter(keyword, status, start, end, time.Local)
	if err != nil {
		return err
	}
	filter.Limit = limit
	filter.Newest = newest

	store, err := auditlog.Open(cfg.AuditDB)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.Query(context.Background(), filter)
	if err != nil {
		return err
	}
	printEntries(out, rows)
	return nil
}

// buildFilter turns command line values into an AuditFilter. Dates are
// interpreted in loc; the end date covers its whole day.
func buildFilter(keyword, status, start, end string, loc *time.Location) (domain.AuditFilter, error) {
	f := domain.AuditFilter{Keyword: keyword}

	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	if start != "" {
		t, err := time.ParseInLocation(dateLayout, start, loc)
		if err != nil {
			return f, fmt.Errorf("invalid --start %q, want YYYY-MM-DD", start)
		}
		f.Start = t
	}
	if end != "" {
		t, err := time.ParseInLocation(dateLayout, end, loc)
		if err != nil {
			return f, fmt.Errorf("invalid --end %q, want YYYY-MM-DD", end)
		}
		f.End = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return f, fmt.Errorf("--end is before --start")
	}
	return f, nil
}

func printEntries(out io.Writer, rows []domain.AuditEntry) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No matching records found.")
		return
	}
	fmt.Fprintln(out, "=== Matching Logs ===")
	for _, e := range rows {
		fmt.Fprintf(out, "[%s] %s: %s (resolved: %s) from %s\n",
			e.Timestamp.Format(auditlog.TimeLayout), e.Status, e.Destination,
			orPlaceholder(e.ResolvedHostname, "-"), orPlaceholder(e.Source, "?"))
	}
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
