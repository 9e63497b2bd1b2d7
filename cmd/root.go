package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"faceserver/config"
	"faceserver/db"
	"faceserver/models"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "faceserver",
	Short: "Face collections, image recognition and annotated video processing",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := config.LoadFile(configFile); err != nil {
				return err
			}
		}
		config.SetupLogging()
		db.Init()
		models.Init()
		return nil
	},
	SilenceUsage: true,
	// Without a subcommand the server is started
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "YAML config file, environment variables take precedence")
}
