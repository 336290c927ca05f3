package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"accantona/internal/core"

	"github.com/spf13/cobra"
)

var (
	flagDays    int
	flagDueID   string
	flagAccount string
)

var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Work with payment dues",
}

var paymentsUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List pending payment dues inside the horizon",
	RunE:  runPaymentsUpcoming,
}

var paymentsConfirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a pending payment due against an account",
	RunE:  runPaymentsConfirm,
}

func init() {
	paymentsUpcomingCmd.Flags().IntVar(&flagDays, "days", 30, "Horizon in days")

	paymentsConfirmCmd.Flags().StringVar(&flagDueID, "due", "", "Payment due ID")
	paymentsConfirmCmd.Flags().StringVar(&flagAccount, "account", "", "Account the payment is taken from")
	_ = paymentsConfirmCmd.MarkFlagRequired("due")
	_ = paymentsConfirmCmd.MarkFlagRequired("account")

	paymentsCmd.AddCommand(paymentsUpcomingCmd, paymentsConfirmCmd)
	rootCmd.AddCommand(paymentsCmd)
}

func runPaymentsUpcoming(cmd *cobra.Command, _ []string) error {
	if err := requireWorkspace(); err != nil {
		return err
	}
	if flagDays < 0 || flagDays > 366 {
		return fmt.Errorf("--days must be between 0 and 366")
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

	dues, err := s.app.Payments.Upcoming(cmd.Context(), flagWorkspace, now, time.Duration(flagDays)*24*time.Hour)
	if err != nil {
		return err
	}
	if len(dues) == 0 {
		fmt.Printf("No payments due in the next %d days.\n", flagDays)
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBUDGET\tDUE\tAMOUNT")
	for _, d := range dues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.BudgetID, d.DueDate, core.FormatMoney(d.AmountExpected))
	}
	return tw.Flush()
}

func runPaymentsConfirm(cmd *cobra.Command, _ []string) error {
	if err := requireWorkspace(); err != nil {
		return err
	}
	if err := requireActor(); err != nil {
		return err
	}
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.app.Payments.Confirm(cmd.Context(), flagActor, flagWorkspace, flagDueID, flagAccount)
	if err != nil {
		return err
	}
	fmt.Printf("Confirmed %s: transaction %s, ledger entry %s\n", flagDueID, res.TransactionID, res.EntryID)
	if res.NextDue != nil {
		fmt.Printf("Next due %s on %s for %s\n", res.NextDue.ID, res.NextDue.DueDate, core.FormatMoney(res.NextDue.AmountExpected))
	}
	return nil
}
