package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goplus/skiabind/internal/pipeline"
)

var (
	buildForce        bool
	buildRefetchStale bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fetch Skia and regenerate the link file and bindings",
	Long: `Build resolves the pinned Skia revision, fetches its prebuilt library when it
is missing, writes the link file for the target and, when any watched input
is newer than the bindings, recompiles the shim and regenerates them.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "Regenerate the bindings even when they are up to date")
	buildCmd.Flags().BoolVar(&buildRefetchStale, "refetch-stale", false, "Refetch the library when it was extracted from another revision")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c := components(logger)
	c.Fetcher = newFetcher(logger, buildRefetchStale)

	res, err := pipeline.New(cfg, c).Run(cmd.Context(), pipeline.Options{Force: buildForce})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "skia %s (%s)\n", res.ContentID, res.Outcome)
	fmt.Fprintf(out, "link %s\n", res.LinkFile)
	if res.Regenerated {
		fmt.Fprintf(out, "bindings %s regenerated\n", res.Bindings)
	} else {
		fmt.Fprintf(out, "bindings up to date\n")
	}
	return nil
}
