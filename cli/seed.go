package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	sdk "fitprogress/sdk/go"
)

type seedOptions struct {
	url      string
	apiKey   string
	athletes int
	workouts int
	maxSets  int
	seed     int64
}

func newSeedCmd() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill a running server with fake athletes and workouts",
		Example: `  fitprogress seed --url http://localhost:8080/api --athletes 50
  fitprogress seed --url http://localhost:8080/api --api-key dev --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080", "API base URL including any path prefix")
	f.StringVar(&opts.apiKey, "api-key", "", "API key sent as X-API-Key")
	f.IntVar(&opts.athletes, "athletes", 10, "number of athletes to create")
	f.IntVar(&opts.workouts, "workouts", 3, "maximum workouts per athlete")
	f.IntVar(&opts.maxSets, "max-sets", 8, "maximum completed sets per workout")
	f.Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	return cmd
}

func runSeed(cmd *cobra.Command, opts seedOptions) error {
	if opts.athletes <= 0 || opts.workouts <= 0 || opts.maxSets < 0 {
		return fmt.Errorf("--athletes and --workouts must be > 0, --max-sets >= 0")
	}
	client, err := sdk.NewClient(opts.url, sdk.WithAPIKey(opts.apiKey), sdk.WithConflictRetries(2))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	faker := gofakeit.New(opts.seed)
	seen := make(map[string]struct{}, opts.athletes)
	total := 0
	for len(seen) < opts.athletes {
		athlete := strings.ToLower(faker.Username())
		if _, dup := seen[athlete]; dup {
			continue
		}
		seen[athlete] = struct{}{}
		n := faker.IntRange(1, opts.workouts)
		for range n {
			sets := int64(faker.IntRange(0, opts.maxSets))
			if _, err := client.CompleteWorkout(ctx, athlete, sets); err != nil {
				return fmt.Errorf("seed %s: %w", athlete, err)
			}
		}
		total += n
	}

	top, err := client.Leaderboard(ctx, min(opts.athletes, 10))
	if err != nil {
		return fmt.Errorf("read leaderboard: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "seeded %d athletes with %d workouts\n\n", len(seen), total)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tATHLETE\tPOINTS\tLEVEL")
	for _, e := range top {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", e.Rank, e.UserID, e.Points, e.Level)
	}
	return w.Flush()
}
