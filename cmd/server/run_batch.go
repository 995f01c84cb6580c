package main

import (
	"github.com/spf13/cobra"
)

var batchLimit int

var runBatchCmd = &cobra.Command{
	Use:   "run-batch",
	Short: "Run one automation sweep over invoices awaiting evaluation and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(a.cfg.Server.ShutdownTimeout)

		res, err := a.services.Automation.RunAutomationBatch(cmd.Context(), batchLimit)
		if err != nil {
			return err
		}

		for _, it := range res.Items {
			ev := a.log.Info()
			if it.Error != "" {
				ev = a.log.Warn().Str("error", it.Error)
			}
			ev.Str("invoice_id", it.InvoiceID).
				Str("decision", string(it.Decision)).
				Float64("confidence", it.Confidence).
				Str("rationale", it.Rationale).
				Msg("Invoice evaluated")
		}
		return nil
	},
}

func init() {
	runBatchCmd.Flags().IntVar(&batchLimit, "limit", 0, "maximum invoices to evaluate (0 = automation.batch_size)")
}
