package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/nbseed/pkg/audit"
	"github.com/newtron-network/nbseed/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log of seeding runs",
	Long: `View the audit log of seeding runs.

Every object apply ensures is logged with the run ID, the NetBox URL, the
step, the outcome (created, exists, skipped) and any error.

Examples:
  nbseed audit list --last 24h
  nbseed audit list --run run-20260101-120000-123456
  nbseed audit list --kind device --state created
  nbseed audit list --failures`,
}

var auditOpts struct {
	path     string
	run      string
	kind     string
	step     string
	state    string
	last     string
	limit    int
	failures bool
	json     bool
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			RunID:       auditOpts.run,
			Kind:        auditOpts.kind,
			Step:        auditOpts.step,
			State:       auditOpts.state,
			Limit:       auditOpts.limit,
			FailureOnly: auditOpts.failures,
		}
		if auditOpts.last != "" {
			d, err := time.ParseDuration(auditOpts.last)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditOpts.last)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		path := firstNonEmpty(auditOpts.path, app.settings.AuditLog, audit.DefaultPath())
		logger, err := audit.NewFileLogger(path, audit.RotationConfig{})
		if err != nil {
			return err
		}
		defer logger.Close()

		events, err := logger.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if auditOpts.json {
			return json.NewEncoder(os.Stdout).Encode(events)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "RUN", "STEP", "KIND", "KEY", "ID", "STATUS")
		for _, e := range events {
			status := cli.Green(e.State)
			if e.State != "created" {
				status = cli.Yellow(e.State)
			}
			if !e.Success {
				status = cli.Red("failed: " + e.Error)
			}
			id := "-"
			if e.ObjectID != 0 {
				id = strconv.Itoa(e.ObjectID)
			}
			t.Row(e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.RunID, e.Step, e.Kind, e.Key, id, status)
		}
		t.Flush()
		fmt.Printf("\n%d events\n", t.Rows())
		return nil
	},
}

func init() {
	f := auditListCmd.Flags()
	f.StringVar(&auditOpts.path, "audit-log", "", "Audit log path (default ~/.nbseed/audit.jsonl)")
	f.StringVar(&auditOpts.run, "run", "", "Filter by run ID")
	f.StringVar(&auditOpts.kind, "kind", "", "Filter by object kind (site, device, cable, ...)")
	f.StringVar(&auditOpts.step, "step", "", "Filter by step")
	f.StringVar(&auditOpts.state, "state", "", "Filter by outcome: created, exists, skipped")
	f.StringVar(&auditOpts.last, "last", "", "Show events from last duration (e.g., 24h)")
	f.IntVar(&auditOpts.limit, "limit", 100, "Maximum events to show")
	f.BoolVar(&auditOpts.failures, "failures", false, "Show only failures")
	f.BoolVar(&auditOpts.json, "json", false, "JSON output")

	auditCmd.AddCommand(auditListCmd)
}
