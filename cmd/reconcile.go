package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/journal"
	"github.com/michaelpento.lv/arbengine/utils"
)

var confirmations uint64

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle journaled bundles whose outcome was unknown",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		node, err := chain.Dial(ctx, cfg.RPCEndpoint, log.Named("chain"))
		if err != nil {
			return err
		}
		defer node.Close()

		store, err := journal.Open(cfg.JournalPath, nil, log.Named("journal"))
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := journal.NewReconciler(store, node, confirmations, log.Named("journal")).Reconcile(ctx)
		if err != nil {
			log.Error("Reconciliation failed", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d: %d included, %d failed, %d still pending\n",
			report.Checked, report.Included, report.Failed, report.StillPending)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Uint64Var(&confirmations, "confirmations", journal.DefaultConfirmations,
		"blocks past the target before an unmined bundle counts as failed")
	rootCmd.AddCommand(reconcileCmd)
}
