package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"accantona/internal/core"
	"accantona/internal/services"

	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the monthly contributions",
	Long: "Fund every active plan once for the month. With --workspace the run is limited to that\n" +
		"workspace and performed as --actor; without it every workspace is funded as the system.",
	RunE: runApply,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show balance, reserved and available cash of a workspace",
	RunE:  runDashboard,
}

func init() {
	rootCmd.AddCommand(applyCmd, dashboardCmd)
}

func runApply(cmd *cobra.Command, _ []string) error {
	now, err := asOf()
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	var results []services.ApplyResult
	if flagWorkspace != "" {
		if err := requireActor(); err != nil {
			return err
		}
		var res services.ApplyResult
		res, err = s.app.Funding.ApplyMonthlyContributions(cmd.Context(), flagActor, flagWorkspace, now)
		results = append(results, res)
	} else {
		results, err = s.app.Funding.ApplyAll(cmd.Context(), now)
	}

	for _, res := range results {
		fmt.Printf("%s %s: funded %d, already funded %d, not fundable %d, failed %d\n",
			res.WorkspaceID, res.Month, len(res.Funded), res.AlreadyFunded, res.NotFundable, res.Failed)
		for _, f := range res.Funded {
			fmt.Printf("  + %s  %s\n", f.BudgetID, core.FormatMoney(f.Amount))
		}
	}
	return err
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	if err := requireWorkspace(); err != nil {
		return err
	}
	now, err := asOf()
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.app.Reserves.Dashboard(cmd.Context(), flagWorkspace, now)
	if err != nil {
		return err
	}

	fmt.Printf("Total balance:   %s\n", formatConverted(d.TotalBalance))
	fmt.Printf("Reserved:        %s\n", formatConverted(d.Reserved))
	fmt.Printf("Available cash:  %s\n", formatConverted(d.AvailableCash))
	if len(d.Budgets) == 0 {
		return nil
	}

	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUDGET\tSTATE\tPROGRESS\tRESERVED")
	for _, b := range d.Budgets {
		fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s %s\n",
			b.Budget.Name,
			b.Progress.State,
			b.Progress.Percent.StringFixed(1),
			core.FormatMoney(b.CurrentReserved), b.Budget.Currency)
	}
	return tw.Flush()
}

func formatConverted(a services.ConvertedAmount) string {
	s := core.FormatMoney(a.Amount) + " " + a.Currency
	if a.Approximate {
		s += " (approximate, no rate for " + strings.Join(a.FallbackCurrencies, ", ") + ")"
	}
	return s
}
