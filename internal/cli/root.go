// Package cli implements the speech command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/speech/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	verbose   bool
}

// NewRootCmd creates the top-level "speech" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "speech",
		Short: "Resolve claim names to cached assets",
		Long: "Speech resolves a claim name, optionally qualified by a full or short claim ID,\n" +
			"to an asset record, fetching it from lbrynet and caching it on first use.",
		// Do not print usage on errors returned by subcommands.
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (env SPEECH_CONFIG_DIR)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "SQLite data directory (env SPEECH_DATA_DIR)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(flags))
	root.AddCommand(newResolveCmd(flags))
	root.AddCommand(newShortIDCmd(flags))
	root.AddCommand(newClaimsCmd(flags))
	root.AddCommand(newAssetsCmd(flags))

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// systemError marks a failure of the environment (store, provider, disk)
// rather than of the user's input.
type systemError struct {
	err error
}

func (e *systemError) Error() string { return e.err.Error() }
func (e *systemError) Unwrap() error { return e.err }

// failure wraps err as a system error unless it is nil.
func failure(format string, err error) error {
	if err == nil {
		return nil
	}
	return &systemError{err: fmt.Errorf(format+": %w", err)}
}

// exitCode maps a command error to a process exit code. Lookups that find
// nothing, unsupported operations and bad configuration are user errors
// even when wrapped as system errors; so are cobra's own argument errors.
func exitCode(err error) int {
	var se *systemError
	switch {
	case err == nil:
		return exitSuccess
	case isUserError(err):
		return exitUserError
	case errors.As(err, &se):
		return exitSysError
	default:
		return exitUserError
	}
}

func isUserError(err error) bool {
	for _, target := range []error{
		types.ErrNotFound,
		types.ErrUnsupported,
		types.ErrInvalidName,
		types.ErrBackendEmpty,
		types.ErrBackendUnknown,
		types.ErrDatabaseURLEmpty,
		types.ErrFetchTimeoutInvalid,
		types.ErrFetchRateInvalid,
		types.ErrRedisTTLInvalid,
		fs.ErrNotExist,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
