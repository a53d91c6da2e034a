package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/deskctl/pkg/config"
)

// loadConfig reads the config file named by --config (or the default one) and applies
// the global flag overrides on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
		}
	}
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		cfg.Address = address
	}
	return cfg, nil
}

// configureLogger loads the config and creates its logger. Without an explicit
// --log-level only warnings and errors are printed, so progress lines stay readable.
func configureLogger(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger := cfg.NewLogger()
	if !cmd.Flags().Changed("log-level") && logger.GetLevel() > logrus.WarnLevel {
		logger.SetLevel(logrus.WarnLevel)
	}
	logger.SetOutput(cmd.ErrOrStderr())
	return cfg, logger, nil
}
