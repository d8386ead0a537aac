// Package cli implements the safetrack command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lcrostarosa/safetrack/internal/cli/runner"
	"github.com/lcrostarosa/safetrack/internal/config"
	"github.com/lcrostarosa/safetrack/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

// state is shared by every command of one invocation.
type state struct {
	dataDir string
	addr    string
	offline bool
	json    bool

	cfg    *config.Config
	cfgErr error
	ring   *logging.RingBuffer
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	s := &state{}

	root := &cobra.Command{
		Use:   "safetrack",
		Short: "Personal safety monitor",
		Long: `SafeTrack records your location on a schedule and watches for
inactivity. If the app is not opened within the configured threshold,
every SOS contact receives an alert with a message link.

Run 'safetrack serve' to start the daemon. Other commands talk to it,
or pass --offline to run them against the data directory directly.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			s.initConfig()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	f := root.PersistentFlags()
	f.StringVar(&s.dataDir, "data-dir", "", "Data directory (default: ~/.safetrack or "+config.EnvDataDir+")")
	f.StringVar(&s.addr, "addr", "", "Daemon address (default: server.listen_addr)")
	f.BoolVar(&s.offline, "offline", false, "Run against the data directory without a daemon")
	f.BoolVar(&s.json, "json", false, "Print responses as JSON")

	b := runner.NewBuilder(s.config, s.backend)
	root.AddCommand(
		newInitCmd(s, b),
		newServeCmd(s, b),
		newStatusCmd(s, b),
		newStartCmd(s, b),
		newStopCmd(s, b),
		newRestartCmd(s, b),
		newCheckCmd(s, b),
		newCaptureCmd(s, b),
		newOpenCmd(s, b),
		newSettingsCmd(s, b),
		newLocationsCmd(s, b),
		newAlertsCmd(s, b),
		newLogsCmd(s, b),
		newResetCmd(s, b),
		newVersionCmd(s),
	)
	return root
}

// Execute runs the CLI
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		PrintError(root.ErrOrStderr(), "%v", err)
		_ = logging.Sync()
		os.Exit(1)
	}
	_ = logging.Sync()
}

func (s *state) initConfig() {
	s.cfg, s.cfgErr = config.Load(s.dataDir)

	logCfg := logging.DefaultConfig()
	if s.cfg != nil {
		logCfg = s.cfg.Log
	}
	s.ring = logging.NewRingBuffer(logCfg.BufferSize)
	if err := logging.Init(logCfg); err != nil {
		logging.InitDefault()
	}
}

func (s *state) config() (*config.Config, error) {
	return s.cfg, s.cfgErr
}

// engineLogger feeds the in-memory ring as well as the console so the Logs
// procedure can return recent entries.
func (s *state) engineLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	return logging.New(cfg.Log, s.ring.Core(level))
}
