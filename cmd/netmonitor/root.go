package main

import (
	"netmonitor/internal/config"
	"netmonitor/internal/logger"

	"github.com/spf13/cobra"
)

// app 命令共享的配置与日志
type app struct {
	configPath string
	verbose    bool
	cfg        *config.Config
	log        logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "netmonitor",
		Short: "Capture, rewrite and search HTTP traffic",
		Long: `netmonitor intercepts HTTP requests issued through its transport, records
each exchange, applies persisted rewrite rules and exports the captured
traffic as HAR.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "yaml config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newFetchCmd(a), newSearchCmd(a), newRulesCmd(a))
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.log = logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Writer: cfg.Log.Writer,
		File:   cfg.Log.File,
	})
	return nil
}
