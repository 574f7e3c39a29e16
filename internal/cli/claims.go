package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/speech/internal/jsonl"
	"github.com/mesh-intelligence/speech/internal/resolve"
	"github.com/mesh-intelligence/speech/pkg/types"
)

func newClaimsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Manage the claim index",
	}
	cmd.AddCommand(newClaimsImportCmd(flags))
	cmd.AddCommand(newClaimsListCmd(flags))
	return cmd
}

func newClaimsImportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Load claims from a JSONL file into the claim index",
		Long: "Each line is a JSON object with name, claimId, height and optionally amount,\n" +
			"certificateId and address. Malformed lines and claims already indexed are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.backend.ImportClaims(cmd.Context(), args[0])
			if err != nil {
				return failure("import claims", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d claims\n", n)
			return nil
		},
	}
}

func newClaimsListCmd(flags *rootFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list <name>",
		Short: "List the claims for a name in winning order with their short IDs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			r := resolve.New(s.store, s.provider(), resolve.WithLogger(s.logger))
			claims, err := r.ListFreeClaims(cmd.Context(), args[0])
			if err != nil {
				return failure("list claims", err)
			}
			if jsonOut {
				return writeJSON(cmd, claims)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SHORT ID\tCLAIM ID\tAMOUNT\tHEIGHT")
			for _, c := range claims {
				fmt.Fprintf(tw, "%s\t%s\t%g\t%d\n", c.ShortID, c.ClaimID, c.Amount, c.Height)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	return cmd
}

func newAssetsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage the asset cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export <file.jsonl>",
		Short: "Write every cached asset to a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.backend.ExportAssets(cmd.Context(), args[0])
			if err != nil {
				return failure("export assets", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d assets\n", n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Restore cached assets from a file written by assets export",
		Long:  "Assets already cached under the same name and claim ID are kept and skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := jsonl.ReadAssets(args[0])
			if err != nil {
				return failure("read assets", err)
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			inserted, skipped := 0, 0
			for i := range recs {
				res, err := s.store.InsertCachedAsset(cmd.Context(), &recs[i])
				if err != nil {
					return failure("import assets", err)
				}
				if res == types.Inserted {
					inserted++
				} else {
					skipped++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d assets, skipped %d\n", inserted, skipped)
			return nil
		},
	})
	return cmd
}
