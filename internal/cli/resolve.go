package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/speech/internal/resolve"
	"github.com/mesh-intelligence/speech/pkg/types"
)

type resolveFlags struct {
	claimID     string
	shortID     string
	channel     string
	metricsFile string
}

func newResolveCmd(flags *rootFlags) *cobra.Command {
	rf := &resolveFlags{}
	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Resolve a claim name to its asset record",
		Long: "Resolve prints the asset record for a name as JSON. Without a qualifier the\n" +
			"winning claim is used: the highest amount, ties going to the earliest.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, flags, rf, args[0])
		},
	}
	cmd.Flags().StringVar(&rf.claimID, "claim-id", "", "resolve this full claim ID")
	cmd.Flags().StringVar(&rf.shortID, "short-id", "", "resolve the earliest claim whose ID starts with this prefix")
	cmd.Flags().StringVar(&rf.channel, "channel-id", "", "resolve within a channel (not supported)")
	cmd.Flags().StringVar(&rf.metricsFile, "metrics-textfile", "", "write resolver metrics to this file in Prometheus text format")
	cmd.MarkFlagsMutuallyExclusive("claim-id", "short-id", "channel-id")
	return cmd
}

func runResolve(cmd *cobra.Command, flags *rootFlags, rf *resolveFlags, name string) error {
	s, err := openSession(cmd, flags)
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	r := resolve.New(s.store, s.provider(),
		resolve.WithLogger(s.logger),
		resolve.WithRegisterer(reg),
		resolve.WithFlightTimeout(s.cfg.FetchTimeout),
	)

	ctx := cmd.Context()
	var rec *types.AssetRecord
	switch {
	case rf.channel != "":
		rec, err = r.ResolveByChannel(ctx, rf.channel, name)
	case rf.claimID != "":
		rec, err = r.ResolveByClaimID(ctx, name, rf.claimID)
	case rf.shortID != "":
		rec, err = r.ResolveByShortID(ctx, name, rf.shortID)
	default:
		rec, err = r.ResolveByName(ctx, name)
	}

	if rf.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(rf.metricsFile, reg); werr != nil {
			s.logger.Warn("writing metrics textfile", "path", rf.metricsFile, "error", werr)
		}
	}
	if err != nil {
		return describeResolveError(err)
	}
	return writeJSON(cmd, rec)
}

// describeResolveError keeps user-facing kinds as they are and marks the
// rest as system failures.
func describeResolveError(err error) error {
	switch {
	case errors.Is(err, types.ErrUnsupported):
		return fmt.Errorf("channel lookup unavailable: %w", err)
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidName):
		return fmt.Errorf("no such content: %w", err)
	case types.IsRetryable(err):
		return failure("resolve (retryable)", err)
	default:
		return failure("resolve", err)
	}
}

func newShortIDCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shortid <name> <claimId>",
		Short: "Print the current short ID of a claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			r := resolve.New(s.store, s.provider(), resolve.WithLogger(s.logger))
			id, err := r.ShortIDForClaim(cmd.Context(), args[0], args[1])
			if err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return err
				}
				return failure("compute short id", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
