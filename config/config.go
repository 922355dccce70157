package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run the converter.
type Config struct {
	InputPath string
	OutDir    string
	Recursive bool
	Workers   int
	Bundle    string
	StateDir  string
	Force     bool
	DryRun    bool
	LogLevel  string
	LogDir    string
	Include   []string
	Exclude   []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("in", "", "Path to a .msg file or a directory of .msg files")
	flags.String("out", "eml", "Output directory for converted files")
	flags.Bool("recursive", false, "Descend into subdirectories of the input directory")
	flags.Int("workers", runtime.NumCPU(), "Number of concurrent conversion workers")
	flags.String("bundle", "none", "Bundle format for the output: none, mbox, zip")
	flags.String("state-dir", defaultStateDir, "Directory for incremental conversion state files")
	flags.Bool("force", false, "Convert files even if a previous run already converted them")
	flags.Bool("dry-run", false, "Convert without writing output and emit stats")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (disabled when empty)")
	flags.StringArray("include", nil, "Regex allow-list applied to source file paths (mutually exclusive with --exclude)")
	flags.StringArray("exclude", nil, "Regex block-list applied to source file paths (mutually exclusive with --include)")

	if err := cmd.MarkFlagRequired("in"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	inputPath, err := flags.GetString("in")
	if err != nil {
		return Config{}, err
	}
	outDir, err := flags.GetString("out")
	if err != nil {
		return Config{}, err
	}
	recursive, err := flags.GetBool("recursive")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	bundle, err := flags.GetString("bundle")
	if err != nil {
		return Config{}, err
	}
	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Config{}, err
	}
	force, err := flags.GetBool("force")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	include, err := flags.GetStringArray("include")
	if err != nil {
		return Config{}, err
	}
	exclude, err := flags.GetStringArray("exclude")
	if err != nil {
		return Config{}, err
	}

	if stateDir == "" {
		stateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		InputPath: inputPath,
		OutDir:    filepath.Clean(outDir),
		Recursive: recursive,
		Workers:   workers,
		Bundle:    strings.ToLower(bundle),
		StateDir:  filepath.Clean(stateDir),
		Force:     force,
		DryRun:    dryRun,
		LogLevel:  logLevel,
		LogDir:    logDir,
		Include:   include,
		Exclude:   exclude,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.InputPath == "" {
		return fmt.Errorf("--in is required")
	}
	if cfg.OutDir == "" {
		return fmt.Errorf("--out must not be empty")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	if len(cfg.Include) > 0 && len(cfg.Exclude) > 0 {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.Bundle {
	case "none", "mbox", "zip":
	default:
		return fmt.Errorf("invalid --bundle: %s", cfg.Bundle)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".msg-to-eml", "state"), nil
}
