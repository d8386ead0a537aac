package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lcrostarosa/safetrack/internal/cli/runner"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/rpc"
	"github.com/lcrostarosa/safetrack/internal/settings"
)

func newSettingsCmd(s *state, b *runner.Builder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change monitoring settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			st, err := client.GetSettings(cmd.Context())
			if err != nil {
				return err
			}
			return s.printSettings(cmd, st)
		}),
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Change one or more settings",
		Long: `Change settings. Only the flags you pass are updated, and nothing
is saved unless every value is valid. Running jobs are restarted when the
capture interval changes.`,
		Example: `  # Capture every 5 minutes and alert after 12 hours
  safetrack settings set --interval 5 --threshold 12

  # Replace the SOS contacts
  safetrack settings set --contacts "+15551230001,+44 20 7946 0000"

  # Remove every contact
  safetrack settings set --clear-contacts`,
		Args: cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			fields, err := settingsUpdate(cmd)
			if err != nil {
				return err
			}
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			st, err := client.UpdateSettings(cmd.Context(), fields)
			if err != nil {
				return err
			}
			if !s.json {
				p := newPrinter(cmd, s)
				p.success("Settings saved")
				if has(st, rpc.WarningField) {
					p.warning("%s", str(st, rpc.WarningField))
				}
			}
			return s.printSettings(cmd, st)
		}),
	}
	f := set.Flags()
	f.Int("interval", 0, "Minutes between location captures")
	f.Float64("threshold", 0, "Hours without an app open before alerting")
	f.StringSlice("contacts", nil, "SOS phone numbers (comma-separated, replaces the list)")
	f.Bool("clear-contacts", false, "Remove every SOS contact")
	set.MarkFlagsMutuallyExclusive("contacts", "clear-contacts")

	cmd.AddCommand(show, set)
	return cmd
}

// settingsUpdate collects the flags that were passed into a partial update.
func settingsUpdate(cmd *cobra.Command) (map[string]any, error) {
	flags := runner.Flags(cmd)
	fields := map[string]any{}

	if flags.Changed("interval") {
		fields[settings.KeyLocationInterval] = flags.Int("interval")
	}
	if flags.Changed("threshold") {
		fields[settings.KeyInactivityThreshold] = flags.Float64("threshold")
	}
	if flags.Changed("contacts") {
		var contacts []any
		for _, c := range flags.StringSlice("contacts") {
			if c = strings.TrimSpace(c); c != "" {
				contacts = append(contacts, c)
			}
		}
		fields[settings.KeySOSContacts] = contacts
	}
	if flags.Bool("clear-contacts") {
		fields[settings.KeySOSContacts] = nil
	}

	if err := flags.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, apperrors.Invalid("settings", nil, "pass at least one of --interval, --threshold, --contacts or --clear-contacts")
	}
	return fields, nil
}

func (s *state) printSettings(cmd *cobra.Command, st *structpb.Struct) error {
	p := newPrinter(cmd, s)
	if p.json {
		return p.message(st)
	}
	p.header("Settings")
	p.info("Location interval:    %s", minutes(num(st, settings.KeyLocationInterval)))
	p.info("Inactivity threshold: %s", hours(num(st, settings.KeyInactivityThreshold)))
	contacts := strs(st, settings.KeySOSContacts)
	if len(contacts) == 0 {
		p.info("SOS contacts:         none")
		return nil
	}
	p.info("SOS contacts:")
	for _, c := range contacts {
		p.info("  %s", c)
	}
	return nil
}
