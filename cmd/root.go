/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/online-library/apiserver/config"
	"github.com/online-library/apiserver/internal/log"
	"github.com/spf13/cobra"
)

// Exit codes shared by every command.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitNotFound = 3
)

// exitCodeError carries the process exit code for err.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitCodeError{code: code, err: err}
}

func usageError(format string, args ...any) error {
	return withExitCode(exitUsage, fmt.Errorf(format, args...))
}

// cfg is loaded once before any subcommand runs.
var cfg config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "library",
	Short: "Online library catalog backend",
	Long: `Online library catalog backend: HTTP API, schema migrations and
administrative tasks. Configuration comes from the environment (and a .env
file in local development).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.LoadConfig()
		log.Init(log.Config{
			Level:      cfg.LogLevel,
			JSONOutput: cfg.LogJSON,
			Output:     os.Stderr,
		})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	os.Exit(run(rootCmd))
}

func run(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	code := exitError
	var coded *exitCodeError
	if errors.As(err, &coded) {
		code = coded.code
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	return code
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withExitCode(exitUsage, fmt.Errorf("%w\n%s", err, cmd.UsageString()))
	})
}
