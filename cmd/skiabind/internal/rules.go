package internal

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/goplus/skiabind/internal/bindgen"
)

var rulesKind string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the binding allowlist in effect",
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

func init() {
	rulesCmd.Flags().StringVar(&rulesKind, "kind", "", "Only list rules of this kind (function, type, var or enum)")
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	only := bindgen.RuleKind(-1)
	if rulesKind != "" {
		if only, err = bindgen.ParseRuleKind(rulesKind); err != nil {
			return err
		}
	}
	fs, err := cfg.FeatureSet()
	if err != nil {
		return err
	}
	rs, err := cfg.RuleSet(fs)
	if err != nil {
		return err
	}

	var data [][]string
	for _, r := range rs.Rules() {
		if only >= 0 && r.Kind != only {
			continue
		}
		data = append(data, []string{r.Kind.String(), r.Pattern})
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"KIND", "PATTERN"})
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
