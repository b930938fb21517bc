package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/catalog"
	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/logging"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// options are the persistent flags. Defaults come from the same environment
// the API server reads.
type options struct {
	dbPath      string
	catalogPath string
	env         string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and operate loan repayment ledgers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("db") {
				opts.dbPath = cfg.DBPath
			}
			if !cmd.Flags().Changed("catalog") {
				opts.catalogPath = cfg.CatalogPath
			}
			opts.env = cfg.Environment
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $LEDGER_DB_PATH)")
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "", "product catalog path (default $LEDGER_CATALOG_PATH)")

	root.AddCommand(newScheduleCmd(opts))
	root.AddCommand(newShowCmd(opts))
	root.AddCommand(newSweepCmd(opts))
	root.AddCommand(newProductsCmd(opts))
	return root
}

// ─── schedule ───────────────────────────────────────────────────────────────

func newScheduleCmd(opts *options) *cobra.Command {
	var (
		product string
		amount  string
		tenure  int
		start   string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Preview the amortization schedule for a disbursement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			req := ledger.DisbursementRequest{
				ProductCode:  product,
				Amount:       principal,
				TenureMonths: tenure,
			}
			if start != "" {
				if req.RepaymentStartDate, err = time.Parse(time.DateOnly, start); err != nil {
					return fmt.Errorf("invalid start date %q: %w", start, err)
				}
			}

			products, err := catalog.Load(opts.catalogPath)
			if err != nil {
				return err
			}
			svc := ledger.NewLedger(store.NewMemoryStore(), ledger.WithProducts(products))
			preview, err := svc.PreviewSchedule(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Product: %s  Principal: %s  Rate: %s%%  Tenure: %d months\n",
				preview.ProductCode, preview.DisbursedAmount.StringFixed(2), preview.AnnualRate.String(), preview.TenureMonths)
			fmt.Fprintf(out, "EMI: %s  Processing fee: %s\n\n", preview.InitialEMI.StringFixed(2), preview.ProcessingFee.StringFixed(2))
			return printInstallments(out, preview.Installments)
		},
	}
	cmd.Flags().StringVarP(&product, "product", "p", "", "product code")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "principal to disburse")
	cmd.Flags().IntVarP(&tenure, "tenure", "t", 0, "tenure in months (default: product default)")
	cmd.Flags().StringVar(&start, "start", "", "first due date, YYYY-MM-DD (default: one month from today)")
	cmd.MarkFlagRequired("product")
	cmd.MarkFlagRequired("amount")
	return cmd
}

// ─── show ───────────────────────────────────────────────────────────────────

func newShowCmd(opts *options) *cobra.Command {
	var bySubmission bool
	cmd := &cobra.Command{
		Use:   "show LEDGER_ID",
		Short: "Show a ledger and its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.NewSQLiteStore(opts.dbPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", opts.dbPath, err)
			}
			defer s.Close()
			svc := ledger.NewLedger(s)

			var rec *models.Ledger
			if bySubmission {
				rec, err = svc.GetLedgerBySubmission(cmd.Context(), args[0])
			} else {
				id, perr := uuid.Parse(args[0])
				if perr != nil {
					return fmt.Errorf("invalid ledger id %q", args[0])
				}
				rec, err = svc.GetLedger(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			return printLedger(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().BoolVar(&bySubmission, "submission", false, "treat the argument as a submission id")
	return cmd
}

// ─── sweep ──────────────────────────────────────────────────────────────────

func newSweepCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Assess late fees on every open ledger once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(opts.env)
			if err != nil {
				return err
			}
			defer logger.Sync()

			s, err := store.NewSQLiteStore(opts.dbPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", opts.dbPath, err)
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			svc := ledger.NewLedger(s, ledger.WithLogger(logger))
			assessed, err := svc.SweepLateFees(ctx)
			svc.Wait()
			if err != nil {
				return err
			}
			logger.Info("late fee sweep complete", zap.Int("assessed", assessed))
			fmt.Fprintf(cmd.OutOrStdout(), "Assessed %d late fee(s)\n", assessed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

// ─── products ───────────────────────────────────────────────────────────────

func newProductsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List catalog products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := catalog.Load(opts.catalogPath)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tRATE\tPRINCIPAL\tTENURE")
			for _, code := range products.Codes() {
				p, err := products.Product(cmd.Context(), code)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s-%s\t%d-%d\n", p.Code, p.Name, p.AnnualRate.String(),
					p.MinPrincipal.StringFixed(0), p.MaxPrincipal.StringFixed(0), p.MinTenureMonths, p.MaxTenureMonths)
			}
			return tw.Flush()
		},
	}
}

func printLedger(w io.Writer, l *models.Ledger) error {
	fmt.Fprintf(w, "Ledger:      %s\n", l.ID)
	fmt.Fprintf(w, "Submission:  %s\n", l.SubmissionID)
	fmt.Fprintf(w, "Borrower:    %s\n", l.BorrowerID)
	fmt.Fprintf(w, "Status:      %s\n", l.Status)
	fmt.Fprintf(w, "Outstanding: %s\n", l.CurrentOutstandingPrincipal.StringFixed(2))
	fmt.Fprintf(w, "Repaid:      principal %s  interest %s  penalty %s\n",
		l.TotalPrincipalRepaid.StringFixed(2), l.TotalInterestRepaid.StringFixed(2), l.TotalPenaltyRepaid.StringFixed(2))
	if l.NextDueDate != nil {
		fmt.Fprintf(w, "Next due:    %s  %s\n", l.NextDueDate.Format(time.DateOnly), l.NextEMIAmount.StringFixed(2))
	}
	fmt.Fprintln(w)
	return printInstallments(w, l.Installments)
}

func printInstallments(w io.Writer, installments []models.Installment) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tDUE\tPRINCIPAL\tINTEREST\tPENALTY\tPAID\tSTATUS\t")
	for _, inst := range installments {
		paid := inst.PrincipalPaid.Add(inst.InterestPaid).Add(inst.PenaltyPaid)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			inst.Number,
			inst.DueDate.Format(time.DateOnly),
			inst.PrincipalDue.StringFixed(2),
			inst.InterestDue.StringFixed(2),
			inst.PenaltyDue.StringFixed(2),
			paid.StringFixed(2),
			inst.Status,
		)
	}
	return tw.Flush()
}
