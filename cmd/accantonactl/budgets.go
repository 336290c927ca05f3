package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"accantona/internal/core"
	"accantona/internal/services"

	"github.com/spf13/cobra"
)

var (
	flagPreviewAmount string
	flagPreviewDue    string
	flagPreviewStart  string
)

var budgetsCmd = &cobra.Command{
	Use:   "budgets",
	Short: "Inspect budgets",
}

var budgetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the budgets of a workspace with their reserved balance",
	RunE:  runBudgetsList,
}

var budgetsPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the monthly contribution a plan would need",
	RunE:  runBudgetsPreview,
}

func init() {
	budgetsPreviewCmd.Flags().StringVar(&flagPreviewAmount, "amount", "", "Target amount")
	budgetsPreviewCmd.Flags().StringVar(&flagPreviewDue, "due", "", "Due date (YYYY-MM-DD)")
	budgetsPreviewCmd.Flags().StringVar(&flagPreviewStart, "start", string(core.StartThisMonth), "Start policy: start_this_month or start_next_month")
	_ = budgetsPreviewCmd.MarkFlagRequired("amount")
	_ = budgetsPreviewCmd.MarkFlagRequired("due")

	budgetsCmd.AddCommand(budgetsListCmd, budgetsPreviewCmd)
	rootCmd.AddCommand(budgetsCmd)
}

func runBudgetsList(cmd *cobra.Command, _ []string) error {
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

	views, err := s.app.Catalog.List(cmd.Context(), flagWorkspace, now)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Println("No budgets.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tRESERVED\tMONTHLY\tSPENT\tNOTE")
	for _, v := range views {
		note := ""
		if v.IntegrityError != nil {
			note = v.IntegrityError.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\t%s\n",
			v.Budget.ID,
			v.Budget.Name,
			v.Budget.Type,
			v.Budget.Status,
			core.FormatMoney(v.CurrentReserved), v.Budget.Currency,
			core.FormatMoney(v.MonthlyContribution),
			core.FormatMoney(v.SpendingAmount),
			note)
	}
	return tw.Flush()
}

func runBudgetsPreview(_ *cobra.Command, _ []string) error {
	now, err := asOf()
	if err != nil {
		return err
	}
	amount, err := core.ParseAmount(flagPreviewAmount)
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}
	due, err := core.ParseDate(flagPreviewDue)
	if err != nil {
		return err
	}

	// Preview is pure; no store is needed.
	catalog := services.NewBudgetCatalog(nil, nil, nil, services.NopPublisher{})
	p, err := catalog.Preview(services.CreateBudgetInput{
		Type:        core.BudgetPlanSpend,
		Amount:      amount,
		DueDate:     due,
		Recurrence:  core.RecurrenceNone,
		StartPolicy: core.StartPolicy(flagPreviewStart),
	}, now)
	if err != nil {
		return err
	}

	fmt.Printf("First month:           %s\n", p.FirstMonth)
	fmt.Printf("Months:                %d\n", p.TotalMonths)
	fmt.Printf("Monthly contribution:  %s\n", core.FormatMoney(p.MonthlyContribution))
	return nil
}
