package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/bulkmail/pkg/config"
	"github.com/telekom/bulkmail/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// LogConsole receives the mirrored log stream. Defaults to stderr.
	LogConsole io.Writer
}

type runtimeState struct {
	configPath string
	debug      bool
	cfg        config.Config
	log        *zap.SugaredLogger
	closeLog   func() error
	writer     io.Writer
	console    io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		OutputWriter: os.Stdout,
		LogConsole:   os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter, console: cfg.LogConsole}

	root := &cobra.Command{
		Use:          "bulkmail",
		Short:        "Paced bulk mail dispatch over a single SMTP session",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.console == nil {
				rt.console = os.Stderr
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.setup()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file (default ./config.yaml or $BULKMAIL_CONFIG_PATH)")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewSendCommand(),
		NewDigestCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// setup loads the configuration, resolves the password, creates the data
// and log directories and opens the logger.
func (rt *runtimeState) setup() error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	if rt.debug {
		cfg.Log.Debug = true
	}
	if err := cfg.ResolvePassword(); err != nil {
		return err
	}
	if err := cfg.Paths.EnsureDirs(); err != nil {
		return err
	}

	log, closeLog, err := system.NewLogger(system.LogOptions{
		FilePath: cfg.Paths.LogFile,
		Console:  rt.console,
		Debug:    cfg.Log.Debug,
	})
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.log = log
	rt.closeLog = closeLog
	return nil
}

// shutdown flushes and closes the log sink. Safe to call more than once.
func (rt *runtimeState) shutdown() {
	if rt.closeLog == nil {
		return
	}
	if err := rt.closeLog(); err != nil {
		_, _ = fmt.Fprintf(rt.console, "closing log file: %v\n", err)
	}
	rt.closeLog = nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}
