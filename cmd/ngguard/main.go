package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iamwavecut/ngguard/internal/config"
)

const (
	serviceName = "ngguard"
	dbFileName  = "ngguard.db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.WithField("error", err.Error()).Error("exiting")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel int

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Telegram group flood guard",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(log.Level(logLevel))
		},
	}
	root.PersistentFlags().IntVar(&logLevel, "log-level", int(log.InfoLevel), "logrus level, 0 panic .. 6 trace")

	run := newRunCmd()
	root.AddCommand(run, newModlogCmd())
	root.RunE = run.RunE
	return root
}

func setupLogging(level log.Level) {
	log.SetFormatter(&config.NbFormatter{WithSource: level >= log.DebugLevel})
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
}
