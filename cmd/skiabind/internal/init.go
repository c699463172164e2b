package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/goplus/skiabind/internal/atomicfile"
	"github.com/goplus/skiabind/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default " + config.FileName,
	Long:  `Init writes ` + config.FileName + ` to the project directory with the built-in defaults and binding rules spelled out.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(rootDir)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, config.FileName)
	if rootConfig != "" {
		path = rootConfig
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := config.InitConfig(dir).Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", path)
	return nil
}
