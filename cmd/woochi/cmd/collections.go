package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/output"
)

func newCollectionsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			infos := engine.Collections()
			out := output.New(cmd.OutOrStdout())
			if output.WantJSON(cmd.OutOrStdout(), jsonOutput) {
				return out.JSON(infos)
			}
			if len(infos) == 0 {
				out.Status("📭", "No collections. Run 'woochi ingest' first.")
				return nil
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []string{info.Name, info.State, strconv.Itoa(info.Chunks)})
			}
			out.Table([]string{"NAME", "STATE", "CHUNKS"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <collection>",
		Short: "Remove a collection and its stored chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := engine.Drop(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Dropped %s", args[0])
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <collection>",
		Short: "Verify that a collection's stores and indexes hold the same ids",
		Long: `Compare the id sets of the chunk store, the BM25 index, the vector index
and, for durable storage, the catalog. Exits non-zero when they differ.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := engine.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if output.WantJSON(cmd.OutOrStdout(), jsonOutput) {
				if err := out.JSON(report); err != nil {
					return err
				}
			} else {
				out.Header(report.Collection)
				out.Statusf("", "state:   %s", report.State)
				out.Statusf("", "chunks:  %d", report.Chunks)
				out.Statusf("", "lexical: %d", report.LexicalIDs)
				out.Statusf("", "vector:  %d", report.VectorIDs)
				if report.CatalogChecked {
					out.Statusf("", "catalog: %d", report.CatalogIDs)
				}
				for _, issue := range report.Inconsistencies {
					out.Warningf("%s: %s", issue.Type, issue.ChunkID)
				}
				if report.Consistent() {
					out.Success("Consistent")
				}
			}

			if !report.Consistent() {
				return woerrors.IndexDiverged(report.Collection,
					fmt.Sprintf("%d inconsistencies", len(report.Inconsistencies)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
