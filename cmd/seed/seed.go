package seed

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/madello/paarvai/internal/conf"
	seedfile "github.com/madello/paarvai/internal/seed"
	"github.com/madello/paarvai/internal/simulator"
)

// Command creates the seed command, which writes generated seed records to
// a YAML file that serve can load with --seed-file.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [output.yaml]",
		Short: "Write a generated seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			src := simulator.NewSource(settings.Simulator.RandomSeed)
			records := simulator.NewGenerator(simulator.DefaultPools(), src, simulator.DefaultSeedStart).
				Seed(settings.Simulator.SeedCount, now)

			if err := seedfile.Save(args[0], records, now); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(records), args[0])
			return nil
		},
	}

	cmd.Flags().Int("seed-count", 0, "Number of records to generate")
	cmd.Flags().Uint64("random-seed", 0, "Fixed random seed for reproducible output")

	return cmd
}
