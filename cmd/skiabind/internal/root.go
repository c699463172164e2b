package internal

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goplus/skiabind/internal/config"
	"github.com/goplus/skiabind/internal/feature"
	"github.com/goplus/skiabind/internal/logutil"
	"github.com/goplus/skiabind/internal/pipeline"
	"github.com/goplus/skiabind/internal/vcs"
)

var (
	rootDir      string
	rootConfig   string
	rootTarget   string
	rootFeatures string
	rootGitCLI   bool
	rootVerbose  int
)

var rootCmd = &cobra.Command{
	Use:   "skiabind",
	Short: "skiabind prepares Skia for cgo",
	Long: `skiabind resolves the Skia revision pinned by the skia submodule, fetches the
matching prebuilt static library, writes the cgo link directives for the
target and regenerates the Go bindings of the C++ shim when they are stale.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&rootDir, "dir", "C", ".", "Project directory")
	flags.StringVar(&rootConfig, "config", "", "Configuration file (default <dir>/"+config.FileName+")")
	flags.StringVar(&rootTarget, "target", "", "Target triple (default from configuration, then the host)")
	flags.StringVar(&rootFeatures, "features", "", "Comma separated features to enable ("+strings.Join(feature.Known(), ", ")+")")
	flags.BoolVar(&rootGitCLI, "git-cli", false, "Resolve the submodule with the git command instead of go-git")
	flags.CountVarP(&rootVerbose, "verbose", "v", "Increase log verbosity (repeat for traces)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}

// loadConfig applies the persistent flags on top of the loaded
// configuration and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(rootDir, rootConfig)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("target") {
		cfg.Target = rootTarget
	}
	if cmd.Flags().Changed("features") {
		fs, err := feature.Parse(rootFeatures)
		if err != nil {
			return nil, nil, err
		}
		cfg.Features = fs.Names()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	return logutil.NewLogger(w, logutil.Level(rootVerbose, cfg.Debug))
}

func components(logger *slog.Logger) pipeline.Components {
	c := pipeline.Components{Logger: logger}
	if rootGitCLI {
		c.Submodules = vcs.NewGitVCS()
	}
	return c
}
