package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safetrack/internal/cli/runner"
	"github.com/lcrostarosa/safetrack/internal/config"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

func newInitCmd(s *state, b *runner.Builder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Create the data directory and write config.yaml with default values.
Edit the file to choose a location provider and messenger.`,
		Args: cobra.NoArgs,
		RunE: b.Base().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			flags := runner.Flags(cmd)
			force := flags.Bool("force")
			if err := flags.Err(); err != nil {
				return err
			}

			dir := s.dataDir
			if dir == "" {
				dir = config.DefaultDataDir()
			}
			path := filepath.Join(dir, config.FileName)
			if config.Exists(dir) && !force {
				return apperrors.Invalid("config", path, "already exists (use --force to overwrite)")
			}

			cfg := config.Default()
			cfg.DataDir = dir
			if err := cfg.Save(); err != nil {
				return err
			}

			p := newPrinter(cmd, s)
			p.success("Configuration written to %s", path)
			p.info("")
			p.info("Next steps:")
			p.info("  safetrack settings set --offline --contacts <phone>")
			p.info("  safetrack serve")
			return nil
		}),
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	return cmd
}

func newVersionCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			newPrinter(cmd, s).info("safetrack %s", Version)
		},
	}
}
