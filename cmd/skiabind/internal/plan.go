package internal

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/goplus/skiabind/internal/link"
	"github.com/goplus/skiabind/internal/pipeline"
)

var planFlags bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the link directives for the target",
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planFlags, "ldflags", false, "Print the directives as linker flags")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ds, platform, err := pipeline.New(cfg, components(logger)).Plan()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if planFlags {
		fmt.Fprintln(out, strings.Join(link.Flags(ds), " "))
		return nil
	}

	t, _ := cfg.Triple()
	logger.Debug("link plan", "target", t.String(), "platform", platform, "directives", len(ds))

	var data [][]string
	for _, d := range ds {
		data = append(data, []string{d.Name, d.Kind.String()})
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"LIBRARY", "KIND"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}
