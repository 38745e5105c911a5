package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/minichat/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set configuration values",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

// editRaw loads the raw config, hands the parsed key path to fn, and saves
// the result when fn reports a change.
func editRaw(key string, fn func(raw map[string]any, path []string) (bool, error)) error {
	path, err := config.ParseConfigPath(key)
	if err != nil {
		return err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	changed, err := fn(raw, path)
	if err != nil || !changed {
		return err
	}
	return config.SaveRaw(paths.Config, raw)
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value (e.g. server.url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editRaw(args[0], func(raw map[string]any, path []string) (bool, error) {
				val, ok := config.GetValueAtPath(raw, path)
				if !ok {
					return false, fmt.Errorf("key %q not found", args[0])
				}
				out, err := formatValue(val)
				if err != nil {
					return false, err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return false, nil
			})
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[1])
			err := editRaw(args[0], func(raw map[string]any, path []string) (bool, error) {
				config.SetValueAtPath(raw, path, value)
				return true, nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := editRaw(args[0], func(raw map[string]any, path []string) (bool, error) {
				if !config.UnsetValueAtPath(raw, path) {
					return false, fmt.Errorf("key %q not found", args[0])
				}
				return true, nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			issues := config.Validate(&cfg)
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", issue)
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d issue(s)", len(issues))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

// formatValue renders a value for printing; nested values are YAML.
func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return fmt.Sprintln(val), nil
	}
}

// parseValue interprets a command-line string as a typed YAML value.
// Durations such as "5m" stay strings, which is how the loader reads them.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if _, err := time.ParseDuration(s); err == nil && s != "0" {
		return s
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
