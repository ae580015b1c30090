package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/autostream/leadflow/internal/config"
	"github.com/autostream/leadflow/internal/logger"
)

const version = "0.1.0"

var (
	// Global flags
	configPath string
	logLevel   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "AutoStream lead-qualification agent",
	Long: `leadflow answers product questions about AutoStream and turns interested
users into captured leads.

Each message is classified as a greeting, a product inquiry or high purchase
intent. Product inquiries are answered from the knowledge base; high-intent
users are asked for their name, email and creator platform, and the lead is
captured once all three are known.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "leadflow.yaml", "Config file (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(leadsCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies flag overrides and validates the result
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes to stderr so REPL output on stdout stays clean
func newLogger(cfg *config.Config) zerolog.Logger {
	pretty := cfg.Log.Format == config.LogFormatPretty ||
		(cfg.Log.Format == config.LogFormatAuto && logger.IsTerminal(os.Stderr))

	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: pretty,
		Output: os.Stderr,
	})
}
