package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quantpulse/symsync/pkg/syncd"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	daemonCfgFile string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the symsync daemon",
	Long:  `The daemon polls schedules, executes sync pipelines and serves the API.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonCfgFile, "config", "symsync.yaml", "config file (default is symsync.yaml)")
}

func loadDaemonConfigFromFile(file string) (*syncd.Config, error) {
	if file == "" {
		file = "symsync.yaml"
	}

	config := &syncd.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	// Load configuration
	config, err := loadDaemonConfigFromFile(daemonCfgFile)
	if err != nil {
		return err
	}

	// Setup logger
	level, err := logrus.ParseLevel(config.Logging)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	logger.Info("Configuration loaded")

	// Create and start the daemon application
	app := syncd.NewApplication(config, logger)
	if err := app.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	return app.Stop()
}
