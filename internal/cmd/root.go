// Package cmd implements the roster command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/roster/internal/config"
	"github.com/Iron-Ham/roster/internal/errors"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
)

var rootCmd = &cobra.Command{
	Use:   "roster",
	Short: "Cross-session coordination for concurrent agents",
	Long: `Roster lets independent processes working in the same project coordinate
through a shared record store. Each process registers a session that
heartbeats, takes exclusive locks on named resources, and claims tasks
from a shared backlog. Locks and claims held by a session that stops
heartbeating, or whose process has exited, are reclaimed by the next
session that asks for them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat != formatText && outputFormat != formatJSON {
			return fmt.Errorf("invalid format %q: must be text or json", outputFormat)
		}
		return nil
	},
}

var outputFormat string

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so long-running commands release what they hold before exiting.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	return rootCmd.ExecuteContext(ctx)
}

// ExitError carries a process exit status out of a command. A nil Err
// exits quietly.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/roster/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatText, "output format (text|json)")
	bindFlags()
}

// bindFlags exposes persistent flags through viper. viper.Reset drops the
// bindings, so anything that resets viper must call it again.
func bindFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(config.ConfigDir())
	}

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
