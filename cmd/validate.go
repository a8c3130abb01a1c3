package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/utils"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		utils.GetLogger().Info("Configuration is valid",
			zap.Int("exchanges", len(cfg.Exchanges)),
			zap.Int("max_hops", cfg.MaxHops),
			zap.String("min_profit", cfg.MinProfitThreshold.String()),
			zap.Bool("flash_loans", cfg.FlashLoan.Enabled))
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
