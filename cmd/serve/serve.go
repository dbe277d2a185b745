package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/madello/paarvai/internal/app"
	"github.com/madello/paarvai/internal/conf"
)

// Command creates the serve command, which runs the feed with its sources
// and HTTP API until interrupted.
func Command(settings *conf.Settings, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection feed and its HTTP API",
		Long:  "Seed the feed, start the simulator and MQTT source when enabled, and serve the dashboard API until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			flush, err := app.InitTelemetry(settings.Sentry, version)
			if err != nil {
				return err
			}
			defer flush()

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}

	setupFlags(cmd)

	return cmd
}

func setupFlags(cmd *cobra.Command) {
	cmd.Flags().String("listen", "", "HTTP listen address")
	cmd.Flags().Bool("simulate", false, "Generate live detections")
	cmd.Flags().Duration("interval", 0, "Time between simulated detections")
	cmd.Flags().Int("seed-count", 0, "Number of generated seed records")
	cmd.Flags().Uint64("random-seed", 0, "Fixed random seed for reproducible runs")
	cmd.Flags().String("seed-file", "", "YAML seed file used instead of generated records")
	cmd.Flags().Bool("mqtt", false, "Ingest detections from MQTT")
	cmd.Flags().String("mqtt-broker", "", "MQTT broker URL")
	cmd.Flags().String("mqtt-topic", "", "MQTT detection topic")
}
