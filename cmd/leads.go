package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadsense/internal/model"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect detected leads",
	Long:  "Commands for listing and viewing leads and their event history.",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		qualified, _ := cmd.Flags().GetBool("qualified")
		minScore, _ := cmd.Flags().GetInt("min-score")
		status, _ := cmd.Flags().GetString("status")
		intentLevel, _ := cmd.Flags().GetString("intent")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.LeadFilter{
			MinScore:    minScore,
			Status:      status,
			IntentLevel: model.IntentLevel(intentLevel),
			Limit:       limit,
		}
		if cmd.Flags().Changed("qualified") {
			filter.Qualified = &qualified
		}

		leads, err := st.ListLeads(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads show --

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show full details of a lead, including its event history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lead, err := st.GetLead(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}
		events, err := st.ListEvents(ctx, lead.ID, 50)
		if err != nil {
			return eris.Wrap(err, "leads show events")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"lead":   lead,
			"events": events,
		})
	},
}

func formatLeadsList(w io.Writer, leads []model.Lead) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOMPANY\tSCORE\tINTENT\tQUALIFIED\tSTATUS\tUPDATED")
	for _, l := range leads {
		name := l.Name
		if name == "" {
			name = "-"
		}
		company := l.Company
		if company == "" {
			company = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%t\t%s\t%s\n",
			l.ID, name, company, l.Score, l.IntentLevel, l.Qualified, l.Status,
			l.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
}

func init() {
	leadsListCmd.Flags().Bool("qualified", false, "only qualified (or, with =false, unqualified) leads")
	leadsListCmd.Flags().Int("min-score", 0, "minimum score")
	leadsListCmd.Flags().String("status", "", "filter by status")
	leadsListCmd.Flags().String("intent", "", "filter by intent level (none|low|medium|high)")
	leadsListCmd.Flags().Int("limit", 50, "maximum rows")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsShowCmd)
	rootCmd.AddCommand(leadsCmd)
}
