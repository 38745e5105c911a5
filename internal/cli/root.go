package cli

import (
	"fmt"
	"os"

	"github.com/soyeahso/minichat/internal/config"
	"github.com/soyeahso/minichat/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths  config.Paths
	cfg    config.Config
	cfgErr error
	log    *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "minichat",
		Short: "minichat: real-time chat session client",
		Long:  "minichat connects to a chat server, keeps conversations ordered and deduplicated, and tracks notifications and open chat windows.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			// a broken config still lets config/status commands run
			cfg, cfgErr = config.Load(paths.Config)

			level := logLevel
			if level == "" {
				level = cfg.Logging.Level
			}
			log = logging.NewStyled(cfg.Logging.ConsoleStyle, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.minichat/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConnectCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newNotificationsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// loadedConfig returns the config loaded by the root command, failing on
// load errors and validation issues.
func loadedConfig() (config.Config, error) {
	if cfgErr != nil {
		return cfg, cfgErr
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}
