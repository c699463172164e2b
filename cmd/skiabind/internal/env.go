package internal

import (
	"fmt"

	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the effective skiabind environment",
	Args:  cobra.NoArgs,
	RunE:  runEnv,
}

func init() {
	rootCmd.AddCommand(envCmd)
}

func runEnv(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	vals := cfg.Values()
	for _, v := range cfg.EnvVars() {
		fmt.Fprintf(out, "%s=%q\n", v.Name, vals[v.Name])
	}
	if t, err := cfg.Triple(); err == nil {
		fmt.Fprintf(out, "# target %s\n", t)
	}
	fmt.Fprintf(out, "# config %s\n", cfg.ConfigPath())
	return nil
}
