package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/utils"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbengine",
	Short: "Multi-DEX arbitrage bundle engine",
	Long: `arbengine discovers arbitrage cycles across DEX pools, simulates them with gas and
slippage, and submits the profitable ones as tightly sequenced transaction bundles,
falling back to backup routes when a simulation fails.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arbengine.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with secrets")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}

// loadConfig reads the dotenv file and the config file, applying environment overrides
func loadConfig() (*config.Config, error) {
	log := utils.GetLogger()
	if err := config.LoadEnv(envFile); err != nil {
		log.Warn("Failed to load env file", zap.String("path", envFile), zap.Error(err))
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}
