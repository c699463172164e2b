package internal

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/goplus/skiabind/internal/artifact"
	"github.com/goplus/skiabind/internal/pipeline"
)

var fetchRefetchStale bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the prebuilt Skia library",
	Long:  `Fetch resolves the pinned Skia revision and downloads its prebuilt library unless it is already present.`,
	Args:  cobra.NoArgs,
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchRefetchStale, "refetch-stale", false, "Refetch the library when it was extracted from another revision")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c := components(logger)
	c.Fetcher = newFetcher(logger, fetchRefetchStale)

	res, err := pipeline.New(cfg, c).Fetch(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", res.ContentID, res.Outcome, res.Descriptor.LibraryPath())
	return nil
}

func newFetcher(logger *slog.Logger, verify bool) *artifact.Fetcher {
	f := artifact.NewFetcher()
	f.VerifyIdentity = verify
	f.Logger = logger
	return f
}
