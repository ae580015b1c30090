package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/autostream/leadflow/internal/integration"
	"github.com/autostream/leadflow/internal/models"
)

var leadsPlatform string

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List captured leads for a creator platform",
	Long: `Queries the Dgraph lead graph for leads linked to one platform.
Requires dgraph.enabled in the configuration.`,
	RunE: runLeads,
}

func init() {
	leadsCmd.Flags().StringVarP(&leadsPlatform, "platform", "p", "", "Creator platform, e.g. YouTube")
	_ = leadsCmd.MarkFlagRequired("platform")
}

func runLeads(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Dgraph.Enabled {
		return fmt.Errorf("lead graph is disabled, set dgraph.enabled to query it")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	graph, err := integration.NewDgraphLeadGraph(ctx, cfg.Dgraph.Address)
	if err != nil {
		return err
	}
	defer graph.Close()

	leads, err := graph.LeadsByPlatform(ctx, leadsPlatform)
	if err != nil {
		return err
	}
	return printLeads(cmd.OutOrStdout(), leadsPlatform, leads)
}

func printLeads(out io.Writer, platform string, leads []models.Lead) error {
	if len(leads) == 0 {
		fmt.Fprintf(out, "No leads for %s\n", platform)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tEMAIL\tTHREAD")
	for _, l := range leads {
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Name, l.Email, orDash(l.ThreadID))
	}
	return w.Flush()
}
