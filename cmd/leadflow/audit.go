package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/autostream/leadflow/internal/integration"
)

var (
	auditLimit   int
	auditService string
	auditSince   time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent lead-capture audit entries",
	Long: `Lists the newest rows of the audit log and summary statistics for one service.
Use --service all to list every service.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of entries to show")
	auditCmd.Flags().StringVar(&auditService, "service", string(integration.ServiceTypeCapture), "Service to show (lead_capture, salesforce, slack, all)")
	auditCmd.Flags().DurationVar(&auditSince, "since", 24*time.Hour, "Window for the summary statistics")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	auditor, err := integration.NewSQLiteAuditLogger(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer auditor.Close()

	filter := &integration.AuditFilter{Limit: auditLimit}
	if auditService != "all" {
		service := integration.ServiceType(auditService)
		filter.Service = &service
	}

	entries, err := auditor.Query(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSERVICE\tOPERATION\tTHREAD\tOK\tDURATION\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.Service,
			e.Operation,
			e.UserID,
			e.Success,
			e.Duration,
			e.Error,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if filter.Service == nil {
		return nil
	}

	stats, err := auditor.GetStats(cmd.Context(), *filter.Service, time.Now().Add(-auditSince))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nLast %s: %d requests, %d succeeded, %.1f%% errors, avg %s\n",
		auditSince, stats.TotalRequests, stats.SuccessfulRequests, stats.ErrorRate*100, stats.AverageDuration)
	return nil
}
