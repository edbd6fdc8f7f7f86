package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/edgerun/internal/config"
	"github.com/sawpanic/edgerun/internal/errs"
)

const (
	appName = "edgerun"
	version = "v0.4.0"
)

// app carries the per-invocation configuration shared by every command
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
	now        func() time.Time
	out        io.Writer
}

func main() {
	err := newRootCmd(os.Stdout).ExecuteContext(context.Background())
	if err != nil {
		log.Error().Err(err).Str("kind", errs.Kind(err)).Msg("Command failed")
	}
	os.Exit(errs.ExitCode(err))
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{now: time.Now, out: out}

	root := &cobra.Command{
		Use:     appName,
		Short:   "Outcome-model research and governance pipeline",
		Version: version,
		Long: `edgerun trains a logistic outcome model on per-event feature tables,
evaluates it out of time, compares it against random bettors, calibrates
confidence buckets and governs which betting policy runtime may use.

Every run reads one immutable configuration (--config) and writes its
artifacts atomically; command flags override the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML run configuration")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (trace|debug|info|warn|error), overrides config")

	root.AddCommand(
		a.integrityCmd(),
		a.walkForwardCmd(),
		a.confidenceCmd(),
		a.monteCarloCmd(),
		a.paperCmd(),
		a.governanceCmd(),
		a.policyCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads the configuration and configures the global logger
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errs.Invalid("log-level", "unknown log level %q", cfg.LogLevel)
	}
	setupLogging(cmd.ErrOrStderr(), level)
	a.cfg = cfg

	log.Debug().
		Str("command", cmd.CommandPath()).
		Str("config", a.configPath).
		Msg("Configuration loaded")
	return nil
}

func setupLogging(w io.Writer, level zerolog.Level) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// printf writes a human summary line to the command output
func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
