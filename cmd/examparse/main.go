// Command examparse parses exam documents from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/examparse"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
	outputDir  string
	imageDir   string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "examparse",
		Short:        "Turn exam documents into structured, validated questions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd, g.logLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (YAML or JSON)")
	pf.StringVar(&g.dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&g.outputDir, "output-dir", "", "directory for <exam>_parsed.json and <exam>_validation.json")
	pf.StringVar(&g.imageDir, "image-dir", "", "directory for extracted images")
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newParseCmd(g),
		newBatchCmd(g),
		newValidateCmd(),
		newInfoCmd(g),
		newExportCmd(),
	)
	return root
}

// setupLogging installs a text handler on stderr at the requested level.
func setupLogging(cmd *cobra.Command, level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: l})))
	return nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (g *globalFlags) loadConfig() (examparse.Config, error) {
	cfg := examparse.DefaultConfig()
	if g.configPath != "" {
		loaded, err := examparse.LoadConfig(g.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	if g.outputDir != "" {
		cfg.OutputDir = g.outputDir
	}
	if g.imageDir != "" {
		cfg.ImageDir = g.imageDir
	}
	return cfg, cfg.Validate()
}

func (g *globalFlags) engine() (examparse.Engine, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return examparse.New(cfg)
}

// parsePages parses "N", "N-M", "N-" or "-M" into a 1-based inclusive range.
func parsePages(s string) (start, end int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	lo, hi, isRange := strings.Cut(s, "-")
	if !isRange {
		hi = lo
	}
	if lo != "" {
		if start, err = strconv.Atoi(lo); err != nil || start < 1 {
			return 0, 0, fmt.Errorf("invalid page range %q", s)
		}
	}
	if hi != "" {
		if end, err = strconv.Atoi(hi); err != nil || end < 1 {
			return 0, 0, fmt.Errorf("invalid page range %q", s)
		}
	}
	if start > 0 && end > 0 && start > end {
		return 0, 0, fmt.Errorf("invalid page range %q", s)
	}
	return start, end, nil
}
