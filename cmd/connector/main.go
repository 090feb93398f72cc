package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Satoappco/SatoApp-sub002/internal/config"
)

var (
	configFile    string
	dataDir       string
	listen        string
	logLevel      string
	logToFile     bool
	logDir        string
	transportMode string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "connector",
		Short:   "Sato Connector - marketing platform connection lifecycle service",
		Version: version,
		RunE:    runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.satoconnector)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address for the HTTP API")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to file in the data directory")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")
	rootCmd.PersistentFlags().StringVar(&transportMode, "transport-mode", "", "Transport mode (http, stdio, auto)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connector HTTP API",
		RunE:  runServe,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "List connections whose failure count crossed the retry threshold",
		RunE:  runCheck,
	}
	checkCmd.Flags().Int("min-failures", 0, "Minimum failure count to report (default: configured max-failures)")

	rootCmd.AddCommand(serveCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if transportMode != "" {
		cfg.TransportMode = transportMode
	}

	if cfg.Logging == nil {
		cfg.Logging = &config.LogConfig{
			Level:         logLevel,
			EnableFile:    logToFile,
			EnableConsole: true,
			Filename:      "connector.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
