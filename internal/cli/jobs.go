package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/lcrostarosa/safetrack/internal/cli/runner"
	"github.com/lcrostarosa/safetrack/internal/rpc"
	"github.com/lcrostarosa/safetrack/internal/settings"
)

func newStatusCmd(s *state, b *runner.Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job state, settings and the last inactivity check",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			return s.call(ctx, cmd, (*rpc.Client).Status, "")
		}),
	}
}

func newStartCmd(s *state, b *runner.Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start location capture and the inactivity monitor",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			if s.offline {
				newPrinter(cmd, s).warning("Offline jobs stop when this command exits - use 'safetrack serve' to keep them running")
			}
			return s.call(ctx, cmd, (*rpc.Client).StartAll, "Monitoring started")
		}),
	}
}

func newStopCmd(s *state, b *runner.Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop both jobs",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			return s.call(ctx, cmd, (*rpc.Client).StopAll, "Monitoring stopped")
		}),
	}
}

func newRestartCmd(s *state, b *runner.Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop and start both jobs with current settings",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			return s.call(ctx, cmd, (*rpc.Client).Restart, "Monitoring restarted")
		}),
	}
}

// call runs a status-returning procedure and prints the result.
func (s *state) call(ctx *runner.CommandContext, cmd *cobra.Command, proc func(*rpc.Client, context.Context) (*structpb.Struct, error), done string) error {
	client, err := ctx.Client(cmd.Context())
	if err != nil {
		return err
	}
	st, err := proc(client, cmd.Context())
	if err != nil {
		return err
	}

	p := newPrinter(cmd, s)
	if p.json {
		return p.message(st)
	}
	if done != "" {
		p.success(done)
		fmt.Fprintln(p.w)
	}
	printStatus(p, st)
	return nil
}

func printStatus(p *printer, st *structpb.Struct) {
	p.header("SafeTrack Status")

	run := str(st, "state")
	if has(st, "started_at") {
		run += " (since " + when(str(st, "started_at")) + ")"
	}
	p.info("State:      %s", run)

	capture := sub(st, "capture")
	if boolean(capture, "active") {
		p.info("Capture:    every %s", minutes(num(capture, "interval_minutes")))
	} else {
		p.info("Capture:    inactive")
	}

	monitor := sub(st, "monitor")
	if boolean(monitor, "active") {
		p.info("Monitor:    active (%s)", str(monitor, "phase"))
	} else {
		p.info("Monitor:    inactive")
	}
	p.info("Last open:  %s", when(str(st, "last_open")))
	p.info("Last alert: %s", when(str(st, "last_alert")))

	cfg := sub(st, "settings")
	p.info("Threshold:  %s", hours(num(cfg, settings.KeyInactivityThreshold)))
	contacts := strs(cfg, settings.KeySOSContacts)
	if len(contacts) == 0 {
		p.info("Contacts:   none - alerts cannot be sent")
	} else {
		p.info("Contacts:   %s", strings.Join(contacts, ", "))
	}

	stats := sub(st, "stats")
	p.info("Records:    %.0f locations, %.0f alerts", num(stats, "location_logs"), num(stats, "alert_logs"))

	if has(st, "last_check") {
		p.divider()
		printReport(p, sub(st, "last_check"))
	}
}

func newCheckCmd(s *state, b *runner.Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one inactivity check now",
		Long: `Compare the time since the app was last opened with the threshold.
If it is exceeded, an alert is sent to every SOS contact.`,
		Args: cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := client.CheckNow(cmd.Context())
			if err != nil {
				return err
			}
			p := newPrinter(cmd, s)
			if p.json {
				return p.message(rep)
			}
			printReport(p, rep)
			return nil
		}),
	}
}

func printReport(p *printer, rep *structpb.Struct) {
	p.info("Checked:    %s", when(str(rep, "checked_at")))
	if !boolean(rep, "has_last_open") {
		p.info("Result:     no app open recorded yet")
		return
	}
	p.info("Inactive:   %s of %s", hours(num(rep, "elapsed_hours")), hours(num(rep, "threshold_hours")))
	switch {
	case !boolean(rep, "breached"):
		p.info("Result:     ok")
	case boolean(rep, "suppressed"):
		p.warning("Threshold exceeded, alert suppressed by cooldown")
	case num(rep, "sent") == 0 && num(rep, "failed") == 0:
		p.warning("Threshold exceeded but no SOS contacts are configured")
	default:
		p.warning("Threshold exceeded: %.0f alerts sent, %.0f failed", num(rep, "sent"), num(rep, "failed"))
	}
}

func newCaptureCmd(s *state, b *runner.Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Record the current location once",
		Args:  cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := client.CaptureOnce(cmd.Context())
			if err != nil {
				return err
			}
			p := newPrinter(cmd, s)
			if p.json {
				return p.message(rec)
			}
			p.success("Location recorded: %.6f, %.6f at %s",
				num(rec, "latitude"), num(rec, "longitude"), when(str(rec, "timestamp")))
			return nil
		}),
	}
}

func newOpenCmd(s *state, b *runner.Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Record that the app was opened",
		Long: `Record an app open. This resets the inactivity timer and re-arms
alerting after a breach.`,
		Args: cobra.NoArgs,
		RunE: b.Client().Wrap(func(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
			client, err := ctx.Client(cmd.Context())
			if err != nil {
				return err
			}
			at, err := client.RecordOpen(cmd.Context())
			if err != nil {
				return err
			}
			p := newPrinter(cmd, s)
			if p.json {
				return p.message(timestamppb.New(at))
			}
			p.success("App open recorded at %s", at.Local().Format("2006-01-02 15:04:05"))
			return nil
		}),
	}
}

func minutes(m float64) string {
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%g minutes", m)
}

func hours(h float64) string {
	return fmt.Sprintf("%.1f h", h)
}
