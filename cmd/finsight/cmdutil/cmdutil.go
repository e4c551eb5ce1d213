// Package cmdutil holds helpers shared by finsight commands: config
// resolution, logger construction and API client setup.
package cmdutil

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/client"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/logger"
)

// ConfigDir returns the --config-dir persistent flag, or "" when unset.
func ConfigDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config-dir")
	return dir
}

// Debug returns the --debug persistent flag.
func Debug(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug
}

// NewLogger writes to stderr: the pretty handler on terminals, JSON
// otherwise.
func NewLogger(cmd *cobra.Command) *slog.Logger {
	pretty := cliui.IsTerminal(os.Stderr)
	return logger.New(
		logger.WithDebug(Debug(cmd)),
		logger.WithPretty(pretty),
		logger.WithJSON(!pretty),
		logger.WithWriter(os.Stderr),
	)
}

// LoadConfig resolves the configuration through viper (flag > env > config
// file > default), binding the registered flags named by flagKeys.
func LoadConfig(cmd *cobra.Command, flagKeys []string) (*config.Config, error) {
	v, err := NewViper(cmd, flagKeys)
	if err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

// NewViper returns the viper instance behind LoadConfig, for callers that
// resolve the configuration again later.
func NewViper(cmd *cobra.Command, flagKeys []string) (*viper.Viper, error) {
	v, err := config.InitViper(ConfigDir(cmd))
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)
	return v, nil
}

// NewClient builds an API client. The --api-target flag wins over the
// client.api_target config value.
func NewClient(cmd *cobra.Command, apiTarget string) (*client.Client, error) {
	if !cmd.Flags().Changed(config.Flags[config.FlagAPITarget].Name) {
		cfg, err := LoadConfig(cmd, nil)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		apiTarget = cfg.Client.APITarget
	}
	return client.New(apiTarget)
}
