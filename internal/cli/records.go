package cli

import (
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lcrostarosa/safetrack/internal/cli/runner"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/rpc"
)

func newLocationsCmd(s *state, b *runner.Builder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "List or prune recorded locations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent locations, newest first",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			n, err := limitFlag(cmd)
			if err != nil {
				return err
			}
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := client.RecentLocations(cmd.Context(), n)
			if err != nil {
				return err
			}
			p := newPrinter(cmd, s)
			if p.json {
				return p.message(list)
			}
			if len(list.GetValues()) == 0 {
				p.info("No locations recorded yet")
				return nil
			}
			p.header("Recent Locations")
			for _, v := range list.GetValues() {
				rec := v.GetStructValue()
				p.info("%s  %11.6f %11.6f", when(str(rec, "timestamp")), num(rec, "latitude"), num(rec, "longitude"))
			}
			return nil
		}),
	}
	addLimitFlag(list)

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete locations older than a number of days",
		Example: `  # Keep one week of history
  safetrack locations prune --days 7`,
		Args: cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			flags := runner.Flags(cmd)
			days := flags.Int("days")
			if err := flags.Err(); err != nil {
				return err
			}
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			n, err := client.PruneLocations(cmd.Context(), days)
			if err != nil {
				return err
			}
			p := newPrinter(cmd, s)
			if p.json {
				return p.message(&structpb.Struct{Fields: map[string]*structpb.Value{
					"deleted": structpb.NewNumberValue(float64(n)),
				}})
			}
			p.success("Deleted %d location records older than %d days", n, days)
			return nil
		}),
	}
	prune.Flags().Int("days", 0, "Age in days beyond which records are deleted")
	_ = prune.MarkFlagRequired("days")

	cmd.AddCommand(list, prune)
	return cmd
}

func newAlertsCmd(s *state, b *runner.Builder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent alert deliveries, newest first",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			n, err := limitFlag(cmd)
			if err != nil {
				return err
			}
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := client.Alerts(cmd.Context(), n)
			if err != nil {
				return err
			}
			p := newPrinter(cmd, s)
			if p.json {
				return p.message(list)
			}
			if len(list.GetValues()) == 0 {
				p.info("No alerts sent")
				return nil
			}
			p.header("Alerts")
			for _, v := range list.GetValues() {
				a := v.GetStructValue()
				result := "delivered"
				if !boolean(a, "delivered") {
					result = "failed: " + str(a, "error")
				}
				p.info("%s  %-16s %s", when(str(a, "sent_at")), str(a, "contact"), result)
			}
			return nil
		}),
	}
	addLimitFlag(cmd)
	return cmd
}

func newLogsCmd(s *state, b *runner.Builder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log entries",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			n, err := limitFlag(cmd)
			if err != nil {
				return err
			}
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := client.Logs(cmd.Context(), n)
			if err != nil {
				return err
			}
			p := newPrinter(cmd, s)
			if p.json {
				return p.message(list)
			}
			for _, v := range list.GetValues() {
				e := v.GetStructValue()
				line := when(str(e, "time")) + " " + str(e, "level")
				if logger := str(e, "logger"); logger != "" {
					line += " " + logger
				}
				p.info("%s  %s", line, str(e, "message"))
			}
			return nil
		}),
	}
	addLimitFlag(cmd)
	return cmd
}

func addLimitFlag(cmd *cobra.Command) {
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of entries")
}

func limitFlag(cmd *cobra.Command) (int, error) {
	flags := runner.Flags(cmd)
	n := flags.Int("limit")
	if err := flags.Err(); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, apperrors.Invalid("limit", n, "must not be negative")
	}
	return n, nil
}

func newResetCmd(s *state, b *runner.Builder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all stored settings, locations and alerts",
		Long: `Stop monitoring and delete every stored setting, location record,
alert record and the last app open. Settings fall back to the defaults
from config.yaml. This cannot be undone.`,
		Args: cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			flags := runner.Flags(cmd)
			yes := flags.Bool("yes")
			if err := flags.Err(); err != nil {
				return err
			}
			if !yes {
				return apperrors.Invalid("reset", nil, "this deletes all stored data; pass --yes to confirm")
			}
			return s.call(ctx, cmd, (*rpc.Client).ClearData, "All stored data deleted")
		}),
	}
	cmd.Flags().Bool("yes", false, "Confirm deleting all stored data")
	return cmd
}
