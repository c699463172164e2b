package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goplus/skiabind/internal/pipeline"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pinned Skia revision and its archive URL",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p := pipeline.New(cfg, components(logger))
	id, commit, err := p.Resolve(cmd.Context())
	if err != nil {
		return err
	}
	d, err := p.Describe(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "commit     %s\n", commit)
	fmt.Fprintf(out, "content-id %s\n", id)
	fmt.Fprintf(out, "archive    %s\n", d.URL)
	return nil
}
