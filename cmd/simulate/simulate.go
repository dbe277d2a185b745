package simulate

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/madello/paarvai/internal/app"
	"github.com/madello/paarvai/internal/conf"
	"github.com/madello/paarvai/internal/feed"
)

const defaultDuration = 30 * time.Second

// Command creates the simulate command, which runs the simulator headless for
// a while and prints the resulting feed.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		duration time.Duration
		filter   filterFlags
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulator headless and print the feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), headless(settings), duration, filter.update(cmd))
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", defaultDuration, "How long to run the simulator")
	cmd.Flags().Duration("interval", 0, "Time between simulated detections")
	cmd.Flags().Int("seed-count", 0, "Number of generated seed records")
	cmd.Flags().Uint64("random-seed", 0, "Fixed random seed for reproducible runs")
	cmd.Flags().StringVar(&filter.location, "location", "", "Show only this location")
	cmd.Flags().StringVar(&filter.search, "search", "", "Show only names containing this text")
	cmd.Flags().StringVar(&filter.date, "date", "", "Show only this date (YYYY-MM-DD)")

	return cmd
}

type filterFlags struct {
	location, search, date string
}

// update returns the filter fields the user set on the command line.
func (f *filterFlags) update(cmd *cobra.Command) feed.FilterUpdate {
	var u feed.FilterUpdate
	if cmd.Flags().Changed("location") {
		u.Location = &f.location
	}
	if cmd.Flags().Changed("search") {
		u.Search = &f.search
	}
	if cmd.Flags().Changed("date") {
		u.Date = &f.date
	}
	return u
}

// headless returns a copy of settings with only the feed and simulator on.
func headless(settings *conf.Settings) *conf.Settings {
	s := *settings
	s.Simulator.Enabled = true
	s.WebServer.Enabled = false
	s.MQTT.Enabled = false
	s.Alerts.Enabled = false
	s.Metrics.Enabled = false
	return &s
}

func run(ctx context.Context, out io.Writer, settings *conf.Settings, duration time.Duration, u feed.FilterUpdate) error {
	a, err := app.New(settings)
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop() }()

	if err := a.Start(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	a.Simulator.Stop()

	// the run context may be cancelled already
	readCtx := context.WithoutCancel(ctx)
	if !u.IsEmpty() {
		if err := a.Feed.SetFilter(readCtx, u); err != nil {
			return err
		}
	}
	snap, err := a.Feed.Snapshot(readCtx)
	if err != nil {
		return err
	}

	return printSnapshot(out, snap, a.Location())
}

func printSnapshot(out io.Writer, snap feed.Snapshot, loc *time.Location) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tCLASS\tNAME\tLOCATION\tCAMERA\tCONF\tPRIORITY")
	for i := range snap.Visible {
		r := &snap.Visible[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
			r.ID,
			r.ObservedAt.In(loc).Format(time.DateTime),
			r.Classification,
			r.DisplayName(),
			r.LocationLabel,
			r.CameraName,
			r.Confidence,
			r.Priority)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	sum := feed.Summarize(snap.Visible)
	fmt.Fprintf(out, "\n%d of %d records shown, %d stranger, %d valid\n", sum.Total, snap.Total, sum.Stranger, sum.Valid)
	if snap.Selected != nil {
		fmt.Fprintf(out, "selected: %s (%s)\n", snap.Selected.ID, snap.Selected.DisplayName())
	}
	return nil
}
