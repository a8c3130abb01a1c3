package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/cmd/bot"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/utils"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"start"},
	Short:   "Run the arbitrage loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := loadConfig()
		if err != nil {
			log.Error("Failed to load config", zap.Error(err))
			return err
		}
		secure, err := config.LoadSecureConfig()
		if err != nil {
			log.Error("Failed to load secrets", zap.Error(err))
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		engine, err := bot.New(ctx, cfg, secure, log)
		if err != nil {
			log.Error("Failed to create engine", zap.Error(err))
			return err
		}
		if err := engine.Start(ctx); err != nil {
			return err
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			log.Info("Shutting down gracefully", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}
		stopWithin(engine.Stop, cancel, shutdownGrace, log)
		return nil
	},
}

// shutdownGrace is how long an in-flight cycle may run after a shutdown request
const shutdownGrace = 30 * time.Second

// stopWithin stops the engine and cancels its context once it has stopped, or once
// grace has elapsed, whichever comes first. It reports whether the engine stopped in
// time.
func stopWithin(stop func(), cancel context.CancelFunc, grace time.Duration, log *zap.Logger) bool {
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		cancel()
		return true
	case <-timer.C:
		log.Warn("Shutdown grace period elapsed, cancelling in-flight work", zap.Duration("grace", grace))
		cancel()
		<-done
		return false
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
